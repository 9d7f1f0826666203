package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// dateTimeSize is the wire size of the GATT date-time value (0x2A08):
// year(2), month(1), day(1), hours(1), minutes(1), seconds(1).
const dateTimeSize = 7

// DateTime is the GATT date-time value. Month and Day are 1-based; a
// zero in any calendar field means "unknown".
type DateTime struct {
	Year    uint16
	Month   uint8
	Day     uint8
	Hours   uint8
	Minutes uint8
	Seconds uint8
}

// FromTime converts a time.Time to its date-time representation in t's
// location.
func FromTime(t time.Time) DateTime {
	return DateTime{
		Year:    uint16(t.Year()),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Hours:   uint8(t.Hour()),
		Minutes: uint8(t.Minute()),
		Seconds: uint8(t.Second()),
	}
}

// Time converts to a time.Time in the local location. ok is false when
// any calendar field is unknown.
func (d DateTime) Time() (t time.Time, ok bool) {
	if d.Year == 0 || d.Month == 0 || d.Day == 0 {
		return time.Time{}, false
	}
	return time.Date(int(d.Year), time.Month(d.Month), int(d.Day),
		int(d.Hours), int(d.Minutes), int(d.Seconds), 0, time.Local), true
}

func (d DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		d.Year, d.Month, d.Day, d.Hours, d.Minutes, d.Seconds)
}

// EncodeDateTime encodes d as the 7-byte wire value. The year uses the
// given byte order; little-endian is the GATT wire default.
func EncodeDateTime(d DateTime, order binary.ByteOrder) []byte {
	out := make([]byte, dateTimeSize)
	order.PutUint16(out[0:2], d.Year)
	out[2] = d.Month
	out[3] = d.Day
	out[4] = d.Hours
	out[5] = d.Minutes
	out[6] = d.Seconds
	return out
}

// decodeDateTime decodes up to dateTimeSize bytes. Fields missing from
// a short value stay zero; no error is ever returned. The second return
// is the number of bytes consumed (whole fields only, at most 7).
func decodeDateTime(data []byte, order binary.ByteOrder) (DateTime, int) {
	var d DateTime
	if len(data) < 2 {
		return d, 0
	}
	d.Year = order.Uint16(data[0:2])
	consumed := 2
	for i, field := range []*uint8{&d.Month, &d.Day, &d.Hours, &d.Minutes, &d.Seconds} {
		at := 2 + i
		if at >= len(data) {
			break
		}
		*field = data[at]
		consumed = at + 1
	}
	return d, consumed
}
