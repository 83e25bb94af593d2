// Package totp generates second-factor secrets and checks submitted codes
// (RFC 6238, SHA1, six digits, 30 second steps, one step of skew either way).
package totp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period     = 30
	Digits     = otp.DigitsSix
	Skew       = 1
	SecretSize = 20
	qrSize     = 200
)

type Config struct {
	Issuer string
	// Rand overrides the entropy source; nil uses crypto/rand.
	Rand io.Reader
}

// ConfigFromEnv reads TOTP_ISSUER.
func ConfigFromEnv() Config {
	issuer := os.Getenv("TOTP_ISSUER")
	if issuer == "" {
		issuer = "Pitchfork"
	}
	return Config{Issuer: issuer}
}

// Enrollment is what a user needs to register the secret in an
// authenticator app. Nothing here is persisted by the engine.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	// QRCode is a data:image/png;base64 URL of the provisioning URI.
	QRCode string
}

type Engine struct {
	issuer string
	rand   io.Reader
}

func NewEngine(cfg Config) *Engine {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "Pitchfork"
	}
	return &Engine{issuer: issuer, rand: cfg.Rand}
}

// GenerateSecret creates a fresh 160-bit secret for label (usually the
// account email).
func (e *Engine) GenerateSecret(label string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: label,
		Period:      Period,
		SecretSize:  SecretSize,
		Digits:      Digits,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        e.rand,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	qr, err := qrDataURL(key)
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: key.String(), QRCode: qr}, nil
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifyCode reports whether code matches secret at now or one step either
// side of it. Anything but exactly six ASCII digits is rejected up front, and
// a malformed secret simply fails.
func (e *Engine) VerifyCode(secret, code string, now time.Time) bool {
	if !wellFormed(code) || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func wellFormed(code string) bool {
	if len(code) != Digits.Length() {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
