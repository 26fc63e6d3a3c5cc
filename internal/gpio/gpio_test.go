package gpio

import "testing"

func TestRecorderLevels(t *testing.T) {
	r := &Recorder{}
	var out DigitalOutput = r

	if err := out.Setup("GPIO17", Out); err != nil {
		t.Fatal(err)
	}
	_ = out.Write("GPIO17", true)
	_ = out.Write("GPIO27", true)
	_ = out.Write("GPIO17", false)

	levels := r.Levels("GPIO17")
	if len(levels) != 2 || levels[0] != true || levels[1] != false {
		t.Errorf("unexpected levels %v", levels)
	}
	if !r.Events[0].Setup || r.Events[0].Dir != Out {
		t.Errorf("expected setup event first, got %+v", r.Events[0])
	}
}

func TestDirectionString(t *testing.T) {
	if Out.String() != "out" || In.String() != "in" {
		t.Errorf("unexpected direction names %s/%s", Out, In)
	}
}
