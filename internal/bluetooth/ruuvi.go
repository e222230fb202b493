package bluetooth

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"ble-sensors.klederson.com/internal/sensor"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported ruuvi data format")
	ErrShortPayload      = errors.New("ruuvi payload too short")
	ErrInvalidMeasure    = errors.New("ruuvi payload marks measurement invalid")
)

const (
	rawV1Format = 3
	rawV1Length = 14
	rawV2Format = 5
	rawV2Length = 24
)

// DecodeRuuvi decodes the manufacturer data of a Ruuvi tag (the bytes after
// the company id) into RawFields. Data formats 3 (RAWv1) and 5 (RAWv2) are
// supported. Temperatures are Celsius and pressure is hPa.
func DecodeRuuvi(data []byte) (sensor.RawFields, error) {
	if len(data) == 0 {
		return nil, ErrShortPayload
	}
	switch data[0] {
	case rawV2Format:
		return decodeRawV2(data)
	case rawV1Format:
		return decodeRawV1(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, data[0])
	}
}

func decodeRawV2(data []byte) (sensor.RawFields, error) {
	if len(data) < rawV2Length {
		return nil, fmt.Errorf("%w: format 5 needs %d bytes, got %d", ErrShortPayload, rawV2Length, len(data))
	}

	rawTemp := binary.BigEndian.Uint16(data[1:3])
	rawHum := binary.BigEndian.Uint16(data[3:5])
	if rawTemp == 0x8000 || rawHum == 0xFFFF {
		return nil, ErrInvalidMeasure
	}

	ax := int16(binary.BigEndian.Uint16(data[7:9]))
	ay := int16(binary.BigEndian.Uint16(data[9:11]))
	az := int16(binary.BigEndian.Uint16(data[11:13]))
	power := binary.BigEndian.Uint16(data[13:15])

	return sensor.RawFields{
		sensor.FieldDataFormat:      rawV2Format,
		sensor.FieldTemperature:     round(float64(int16(rawTemp))*0.005, 3),
		sensor.FieldHumidity:        round(float64(rawHum)*0.0025, 4),
		sensor.FieldPressure:        round((float64(binary.BigEndian.Uint16(data[5:7]))+50000)/100, 2),
		sensor.FieldAccelerationX:   int(ax),
		sensor.FieldAccelerationY:   int(ay),
		sensor.FieldAccelerationZ:   int(az),
		sensor.FieldAcceleration:    accelerationTotal(ax, ay, az),
		sensor.FieldBattery:         int(power>>5) + 1600,
		sensor.FieldTxPower:         int(power&0x1F)*2 - 40,
		sensor.FieldMovementCounter: int(data[15]),
		sensor.FieldSequenceNumber:  int(binary.BigEndian.Uint16(data[16:18])),
		sensor.FieldMAC:             sensor.FormatMAC(data[18:24]),
	}, nil
}

func decodeRawV1(data []byte) (sensor.RawFields, error) {
	if len(data) < rawV1Length {
		return nil, fmt.Errorf("%w: format 3 needs %d bytes, got %d", ErrShortPayload, rawV1Length, len(data))
	}

	// Temperature is sign-magnitude: bit 7 of the integer byte is the sign.
	whole := float64(data[2] & 0x7F)
	frac := float64(data[3]) / 100
	temp := whole + frac
	if data[2]&0x80 != 0 {
		temp = -temp
	}

	ax := int16(binary.BigEndian.Uint16(data[6:8]))
	ay := int16(binary.BigEndian.Uint16(data[8:10]))
	az := int16(binary.BigEndian.Uint16(data[10:12]))

	return sensor.RawFields{
		sensor.FieldDataFormat:    rawV1Format,
		sensor.FieldHumidity:      float64(data[1]) / 2,
		sensor.FieldTemperature:   round(temp, 2),
		sensor.FieldPressure:      round((float64(binary.BigEndian.Uint16(data[4:6]))+50000)/100, 2),
		sensor.FieldAccelerationX: int(ax),
		sensor.FieldAccelerationY: int(ay),
		sensor.FieldAccelerationZ: int(az),
		sensor.FieldAcceleration:  accelerationTotal(ax, ay, az),
		sensor.FieldBattery:       int(binary.BigEndian.Uint16(data[12:14])),
	}, nil
}

func accelerationTotal(x, y, z int16) float64 {
	fx, fy, fz := float64(x), float64(y), float64(z)
	return math.Sqrt(fx*fx + fy*fy + fz*fz)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
