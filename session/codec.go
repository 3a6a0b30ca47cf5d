package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Binary cache encoding. The format is append-only: new versions may add
// fields after the existing ones but never reinterpret old ones.
const codecVersionCurrent = 1

var (
	// ErrCorruptPayload marks cache blobs that cannot be decoded.
	ErrCorruptPayload = errors.New("corrupt session payload")
)

// Encode serializes a session into the versioned binary cache format.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil session", ErrCorruptPayload)
	}
	if s.TokenVersion < 0 || s.TokenVersion > math.MaxUint32 {
		return nil, fmt.Errorf("%w: token version out of range", ErrCorruptPayload)
	}

	var buf bytes.Buffer
	buf.WriteByte(codecVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"id", s.ID},
		{"userID", s.UserID},
		{"refreshTokenHash", s.RefreshTokenHash},
		{"ipAddress", s.IPAddress},
	} {
		if len(field.value) > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %s too long", ErrCorruptPayload, field.name)
		}
	}

	writeString8 := func(v string) {
		buf.WriteByte(byte(len(v)))
		buf.WriteString(v)
	}

	writeString8(s.ID)
	writeString8(s.UserID)
	writeString8(s.RefreshTokenHash)

	_ = binary.Write(&buf, binary.BigEndian, uint32(s.TokenVersion))

	writeString8(s.IPAddress)

	if len(s.UserAgent) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: userAgent too long", ErrCorruptPayload)
	}
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(s.UserAgent)))
	buf.WriteString(s.UserAgent)

	_ = binary.Write(&buf, binary.BigEndian, encodeTime(s.CreatedAt))
	_ = binary.Write(&buf, binary.BigEndian, encodeTime(s.ExpiresAt))
	_ = binary.Write(&buf, binary.BigEndian, encodeTime(s.LastAccessAt))

	if s.IsActive {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if s.RevokedAt != nil {
		buf.WriteByte(1)
		_ = binary.Write(&buf, binary.BigEndian, encodeTime(*s.RevokedAt))
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// Decode parses a binary cache blob back into a session. Unknown versions
// and truncated or oversized payloads fail with ErrCorruptPayload.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if version != codecVersionCurrent {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorruptPayload, version)
	}

	s := &Session{}

	if s.ID, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.UserID, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.RefreshTokenHash, err = readString8(reader); err != nil {
		return nil, err
	}

	var tokenVersion uint32
	if err := binary.Read(reader, binary.BigEndian, &tokenVersion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	s.TokenVersion = int(tokenVersion)

	if s.IPAddress, err = readString8(reader); err != nil {
		return nil, err
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	s.UserAgent = string(ua)

	if s.CreatedAt, err = readTime(reader); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = readTime(reader); err != nil {
		return nil, err
	}
	if s.LastAccessAt, err = readTime(reader); err != nil {
		return nil, err
	}

	active, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if active > 1 {
		return nil, fmt.Errorf("%w: invalid active flag", ErrCorruptPayload)
	}
	s.IsActive = active == 1

	revoked, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	switch revoked {
	case 0:
	case 1:
		at, err := readTime(reader)
		if err != nil {
			return nil, err
		}
		s.RevokedAt = &at
	default:
		return nil, fmt.Errorf("%w: invalid revoked flag", ErrCorruptPayload)
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrCorruptPayload)
	}

	return s, nil
}

func readString8(reader *bytes.Reader) (string, error) {
	length, err := reader.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return string(raw), nil
}

func readTime(reader *bytes.Reader) (time.Time, error) {
	var unix int64
	if err := binary.Read(reader, binary.BigEndian, &unix); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return decodeTime(unix), nil
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func decodeTime(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
