// Package certchain models the leaf-first X.509 certificate chain the TLS
// engine hands to callers: PEM emission, PKCS#7 certs-only parsing, and the
// signature-verification auxiliary with its ECDSA raw/DER fallback.
package certchain

import (
	"crypto/x509"
	"encoding/pem"
)

// Link is one node of the singly linked, leaf-first chain.
type Link struct {
	Cert *x509.Certificate
	next *Link
}

// Next returns the certifying link, or nil at the root.
func (l *Link) Next() *Link {
	if l == nil {
		return nil
	}
	return l.next
}

// Chain is a leaf-first singly linked sequence of certificates.
type Chain struct {
	head *Link
	tail *Link
	n    int
}

// NewChain builds a Chain from an ordered, leaf-first certificate slice.
func NewChain(certs ...*x509.Certificate) *Chain {
	c := &Chain{}
	for _, cert := range certs {
		c.Append(cert)
	}
	return c
}

// Append adds cert to the end of the chain (i.e. as the next certifier).
func (c *Chain) Append(cert *x509.Certificate) {
	link := &Link{Cert: cert}
	if c.head == nil {
		c.head = link
	} else {
		c.tail.next = link
	}
	c.tail = link
	c.n++
}

// Leaf returns the first (end-entity) certificate, or nil for an empty chain.
func (c *Chain) Leaf() *x509.Certificate {
	if c.head == nil {
		return nil
	}
	return c.head.Cert
}

// Len reports the number of certificates in the chain.
func (c *Chain) Len() int { return c.n }

// Head returns the first link for manual traversal via Link.Next.
func (c *Chain) Head() *Link { return c.head }

// Certificates flattens the chain into a leaf-first slice.
func (c *Chain) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, 0, c.n)
	for l := c.head; l != nil; l = l.next {
		out = append(out, l.Cert)
	}
	return out
}

// EncodePEM emits the chain as concatenated PEM blocks. If leafOnly is true
// only the first certificate is emitted.
func (c *Chain) EncodePEM(leafOnly bool) ([]byte, error) {
	if c.n == 0 {
		return nil, ErrEmptyChain
	}
	var out []byte
	for l := c.head; l != nil; l = l.next {
		block := &pem.Block{Type: "CERTIFICATE", Bytes: l.Cert.Raw}
		out = append(out, pem.EncodeToMemory(block)...)
		if leafOnly {
			break
		}
	}
	return out, nil
}

// ParsePEM parses one or more concatenated "-----BEGIN CERTIFICATE-----"
// blocks into a leaf-first Chain, in the order they appear in buf.
func ParsePEM(buf []byte) (*Chain, error) {
	c := &Chain{}
	rest := buf
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, ErrInvalidPEM
		}
		c.Append(cert)
	}
	if c.n == 0 {
		return nil, ErrInvalidPEM
	}
	return c, nil
}
