package certchain

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"strings"
)

// oidKeyUsage and oidNetscapeCertType are the extension identifiers placed
// in the CSR's extensionRequest attribute.
var (
	oidKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidNetscapeCertType = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 1}
)

// netscapeCertTypeSSLClient is the single-bit BIT STRING value for the
// SSL_CLIENT flag (the high bit of the first content byte).
var netscapeCertTypeSSLClient = asn1.BitString{Bytes: []byte{0x80}, BitLength: 1}

// zeroKeyUsage encodes an empty (all bits unset) KeyUsage BIT STRING.
var zeroKeyUsage = asn1.BitString{Bytes: []byte{0x00}, BitLength: 0}

// rdn is one attribute-type/value pair of the CSR subject DN, as passed to
// GenerateCSR.
type rdn struct {
	Key   string
	Value string
}

// GenerateCSR builds a PKCS#10 certificate request signed with key using
// SHA-256 (PureEd25519 for Ed25519 keys). pairs are variadic RDN key/value
// pairs (e.g. "CN", "client", "O", "test") that form the subject DN; the
// encoded DN follows pkix.Name's fixed attribute order (C, ST, L, O, OU,
// CN, then unrecognised keys), not the order given.
// The request carries a zero KeyUsage extension and a Netscape cert-type
// extension of SSL_CLIENT, matching a client-authentication-only identity.
func GenerateCSR(signer crypto.Signer, pairs ...string) ([]byte, error) {
	if len(pairs)%2 != 0 {
		return nil, ErrInvalidCSRSubject
	}

	var rdns []rdn
	for i := 0; i < len(pairs); i += 2 {
		rdns = append(rdns, rdn{Key: pairs[i], Value: pairs[i+1]})
	}
	subject := subjectFromRDNs(rdns)

	keyUsageExt, err := asn1.Marshal(zeroKeyUsage)
	if err != nil {
		return nil, err
	}
	netscapeExt, err := asn1.Marshal(netscapeCertTypeSSLClient)
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: signatureAlgorithmFor(signer),
		ExtraExtensions: []pkix.Extension{
			{Id: oidKeyUsage, Critical: false, Value: keyUsageExt},
			{Id: oidNetscapeCertType, Critical: false, Value: netscapeExt},
		},
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, signer)
	if err != nil {
		return nil, err
	}
	return der, nil
}

// subjectFromRDNs maps well-known RDN keys onto pkix.Name fields, folding
// anything else into ExtraNames so no attribute is silently dropped.
func subjectFromRDNs(rdns []rdn) pkix.Name {
	var name pkix.Name
	for _, r := range rdns {
		switch strings.ToUpper(r.Key) {
		case "CN":
			name.CommonName = r.Value
		case "O":
			name.Organization = append(name.Organization, r.Value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, r.Value)
		case "C":
			name.Country = append(name.Country, r.Value)
		case "ST":
			name.Province = append(name.Province, r.Value)
		case "L":
			name.Locality = append(name.Locality, r.Value)
		default:
			name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
				Type:  asn1.ObjectIdentifier{2, 5, 4, 0},
				Value: r.Key + "=" + r.Value,
			})
		}
	}
	return name
}

// signatureAlgorithmFor picks the SHA-256 variant matching signer's key
// type; Ed25519 keys, which take no separate hash, use PureEd25519.
func signatureAlgorithmFor(signer crypto.Signer) x509.SignatureAlgorithm {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256
	case ed25519.PublicKey:
		return x509.PureEd25519
	case *rsa.PublicKey:
		return x509.SHA256WithRSA
	default:
		return x509.SHA256WithRSA
	}
}
