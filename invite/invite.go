// Package invite turns lobby tokens into shareable artifacts: a join URL
// and a QR code rendering of it.
package invite

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 200

// Artifact is everything a host needs to hand the invite to an opponent.
// QRBase64 holds a PNG; it is empty when QR generation failed, the URL is
// always present.
type Artifact struct {
	URL      string
	QRBase64 string
	QRWidth  int
}

type Issuer struct {
	base  *url.URL
	param string
}

// NewIssuer builds an issuer producing links on baseURL with the token in
// the named query parameter.
func NewIssuer(baseURL, param string) (*Issuer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Issuer{base: u, param: param}, nil
}

// Token returns a fresh hard-to-guess lobby token.
func (i *Issuer) Token() string {
	return uuid.New().String()
}

// Link returns the join URL for token.
func (i *Issuer) Link(token string) string {
	u := *i.base
	q := u.Query()
	q.Set(i.param, token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Artifact renders the invite for token. A QR encoding failure still
// returns a usable URL-only artifact alongside the error.
func (i *Issuer) Artifact(token string) (Artifact, error) {
	a := Artifact{URL: i.Link(token)}
	png, err := qrcode.Encode(a.URL, qrcode.Low, qrSize)
	if err != nil {
		return a, fmt.Errorf("encode qr: %w", err)
	}
	a.QRBase64 = base64.StdEncoding.EncodeToString(png)
	a.QRWidth = qrSize
	return a, nil
}
