package modbus

import (
	hwcerrors "hwc-server/internal/errors"
)

// Function codes
const (
	FuncReadHoldingRegisters   byte = 0x03
	FuncWriteHoldingRegister   byte = 0x06
	FuncWriteMultipleRegisters byte = 0x10
)

const (
	maxReadQuantity  = 0x7C
	maxWriteQuantity = 0x7B
	maxRegisterValue = 0xFFFE
)

func checkAddresses(slaveAddr, registerAddr int) error {
	if slaveAddr < 0 || slaveAddr > 255 {
		return hwcerrors.InvalidArgument("slave address %d out of range 0..255", slaveAddr)
	}
	if registerAddr < 1 || registerAddr > 0xFFFF {
		return hwcerrors.InvalidArgument("register address %d out of range 1..65535", registerAddr)
	}
	return nil
}

// ReadHoldingRegisters builds a function 0x03 request.
// Register addresses are 1-based, the wire carries addr-1.
func ReadHoldingRegisters(slaveAddr, startAddr, quantity int) (*Frame, error) {
	if err := checkAddresses(slaveAddr, startAddr); err != nil {
		return nil, err
	}
	if quantity < 1 || quantity > maxReadQuantity {
		return nil, hwcerrors.InvalidArgument("quantity %d out of range 1..%d", quantity, maxReadQuantity)
	}
	a := startAddr - 1
	return EncodeFrame([]byte{
		byte(slaveAddr), FuncReadHoldingRegisters,
		byte(a >> 8), byte(a),
		byte(quantity >> 8), byte(quantity),
	})
}

// WriteHoldingRegister builds a function 0x06 request
func WriteHoldingRegister(slaveAddr, addr, value int) (*Frame, error) {
	if err := checkAddresses(slaveAddr, addr); err != nil {
		return nil, err
	}
	if value < 0 || value > maxRegisterValue {
		return nil, hwcerrors.InvalidArgument("register value %d out of range 0..%d", value, maxRegisterValue)
	}
	a := addr - 1
	return EncodeFrame([]byte{
		byte(slaveAddr), FuncWriteHoldingRegister,
		byte(a >> 8), byte(a),
		byte(value >> 8), byte(value),
	})
}

// WriteMultipleHoldingRegisters builds a function 0x10 request
func WriteMultipleHoldingRegisters(slaveAddr, addr, quantity int, values []int) (*Frame, error) {
	if err := checkAddresses(slaveAddr, addr); err != nil {
		return nil, err
	}
	if quantity < 1 || quantity > maxWriteQuantity {
		return nil, hwcerrors.InvalidArgument("quantity %d out of range 1..%d", quantity, maxWriteQuantity)
	}
	if len(values) != quantity {
		return nil, hwcerrors.InvalidArgument("%d values for quantity %d", len(values), quantity)
	}
	a := addr - 1
	payload := make([]byte, 0, 7+2*quantity)
	payload = append(payload,
		byte(slaveAddr), FuncWriteMultipleRegisters,
		byte(a>>8), byte(a),
		byte(quantity>>8), byte(quantity),
		byte(quantity*2),
	)
	for i, v := range values {
		if v < 0 || v > maxRegisterValue {
			return nil, hwcerrors.InvalidArgument("value[%d]=%d out of range 0..%d", i, v, maxRegisterValue)
		}
		payload = append(payload, byte(v>>8), byte(v))
	}
	return EncodeFrame(payload)
}
