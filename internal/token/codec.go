package token

/*
Файл codec.go — генерация токенов для custom_id кнопок заявки.

Формат: gk:<action>:<subject>:<issued_at, unix nanos base36>:<mac>
mac — keyed BLAKE2b от первых четырех полей, 8 байт в hex.

Платформа видит токен как непрозрачную строку. Остальная система сверяет токены
только точным совпадением с записями хранилища; Parse нужен для маршрутизации
и логов.
*/

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

const (
	// Prefix отличает наши custom_id от чужих компонентов.
	Prefix = "gk"
	// Лимит Discord на custom_id.
	MaxLen = 100

	macSize = 8
	keySize = 32
)

var (
	ErrMalformed  = errors.New("token: malformed control token")
	ErrBadMAC     = errors.New("token: mac mismatch")
	ErrTooLong    = errors.New("token: exceeds platform custom_id limit")
	ErrBadAction  = errors.New("token: unknown action")
	ErrKeyInvalid = errors.New("token: key must be 16..64 bytes")
)

// Parts содержит разобранные поля токена.
type Parts struct {
	Action    domain.Action
	SubjectID uint64
	IssuedAt  time.Time
}

type Codec struct {
	key []byte
}

// NewCodec создает кодек с заданным ключом MAC.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) < 16 || len(key) > blake2b.Size {
		return nil, ErrKeyInvalid
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}, nil
}

// NewCodecFromHex принимает ключ из конфига. Пустая строка — случайный ключ на процесс:
// токены хранятся в сторе, пересчитывать их после рестарта не нужно.
func NewCodecFromHex(secret string) (*Codec, error) {
	if secret == "" {
		key := make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("token: generate key: %w", err)
		}
		return NewCodec(key)
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("token: decode secret: %w", err)
	}
	return NewCodec(key)
}

// Mint строит токен. Одинаковые входы дают одинаковый токен.
func (c *Codec) Mint(action domain.Action, subjectID uint64, issuedAt time.Time) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadAction, action)
	}
	body := strings.Join([]string{
		Prefix,
		string(action),
		strconv.FormatUint(subjectID, 10),
		strconv.FormatInt(issuedAt.UnixNano(), 36),
	}, ":")

	tok := body + ":" + hex.EncodeToString(c.mac(body))
	if len(tok) > MaxLen {
		return "", ErrTooLong
	}
	return tok, nil
}

// MintPair выпускает пару approve/deny одного момента времени.
// Токены пары различаются тегом действия.
func (c *Codec) MintPair(subjectID uint64, issuedAt time.Time) (approve, deny string, err error) {
	if approve, err = c.Mint(domain.ActionApprove, subjectID, issuedAt); err != nil {
		return "", "", err
	}
	if deny, err = c.Mint(domain.ActionDeny, subjectID, issuedAt); err != nil {
		return "", "", err
	}
	return approve, deny, nil
}

// Parse разбирает токен без проверки MAC.
func Parse(tok string) (Parts, error) {
	fields := strings.Split(tok, ":")
	if len(fields) != 5 || fields[0] != Prefix {
		return Parts{}, ErrMalformed
	}
	action := domain.Action(fields[1])
	if !action.Valid() {
		return Parts{}, fmt.Errorf("%w: %q", ErrBadAction, fields[1])
	}
	subject, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: subject: %v", ErrMalformed, err)
	}
	nanos, err := strconv.ParseInt(fields[3], 36, 64)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: issued_at: %v", ErrMalformed, err)
	}
	return Parts{Action: action, SubjectID: subject, IssuedAt: time.Unix(0, nanos).UTC()}, nil
}

// Verify разбирает токен и проверяет, что он выпущен этим ключом.
func (c *Codec) Verify(tok string) (Parts, error) {
	parts, err := Parse(tok)
	if err != nil {
		return Parts{}, err
	}
	i := strings.LastIndexByte(tok, ':')
	got, err := hex.DecodeString(tok[i+1:])
	if err != nil {
		return Parts{}, fmt.Errorf("%w: mac: %v", ErrMalformed, err)
	}
	if subtle.ConstantTimeCompare(got, c.mac(tok[:i])) != 1 {
		return Parts{}, ErrBadMAC
	}
	return parts, nil
}

// Owns быстро фильтрует входящие custom_id по префиксу.
func Owns(customID string) bool {
	return strings.HasPrefix(customID, Prefix+":")
}

func (c *Codec) mac(body string) []byte {
	h, err := blake2b.New(macSize, c.key)
	if err != nil {
		// ключ проверен в NewCodec
		panic(err)
	}
	h.Write([]byte(body))
	return h.Sum(nil)
}
