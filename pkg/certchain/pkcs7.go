package certchain

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidPKCS7SignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidPKCS7Data       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
)

// explicit0 is the context-specific, constructed [0] EXPLICIT tag used
// around both the SignedData content and, in the certificates-only blobs
// this parser targets, the certificate list.
var explicit0 = cbasn1.Tag(0).Constructed().ContextSpecific()

// ParsePKCS7Certs base64-decodes blob and walks it as an ASN.1 SignedData
// ContentInfo carrying no signers, only the leaf-first certificate chain:
//
//	SEQUENCE { OID(signedData), [0] EXPLICIT { SEQUENCE {
//	    INTEGER version, SET digestAlgorithms,
//	    SEQUENCE { OID(data), [0] EXPLICIT { <certificate SEQUENCEs> } }
//	}}}
//
// Any deviation from this shape fails with ErrInvalidPKCS7.
func ParsePKCS7Certs(base64Blob string) (*Chain, error) {
	der, err := base64.StdEncoding.DecodeString(base64Blob)
	if err != nil {
		return nil, ErrInvalidPKCS7
	}

	input := cryptobyte.String(der)

	var contentInfo cryptobyte.String
	if !input.ReadASN1(&contentInfo, cbasn1.SEQUENCE) {
		return nil, ErrInvalidPKCS7
	}

	var oid asn1.ObjectIdentifier
	if !contentInfo.ReadASN1ObjectIdentifier(&oid) || !oid.Equal(oidPKCS7SignedData) {
		return nil, ErrInvalidPKCS7
	}

	var wrapped cryptobyte.String
	if !contentInfo.ReadASN1(&wrapped, explicit0) {
		return nil, ErrInvalidPKCS7
	}

	var signedData cryptobyte.String
	if !wrapped.ReadASN1(&signedData, cbasn1.SEQUENCE) {
		return nil, ErrInvalidPKCS7
	}

	if !signedData.SkipASN1(cbasn1.INTEGER) {
		return nil, ErrInvalidPKCS7
	}
	if !signedData.SkipASN1(cbasn1.SET) {
		return nil, ErrInvalidPKCS7
	}

	var dataInfo cryptobyte.String
	if !signedData.ReadASN1(&dataInfo, cbasn1.SEQUENCE) {
		return nil, ErrInvalidPKCS7
	}

	var dataOID asn1.ObjectIdentifier
	if !dataInfo.ReadASN1ObjectIdentifier(&dataOID) || !dataOID.Equal(oidPKCS7Data) {
		return nil, ErrInvalidPKCS7
	}

	var certArea cryptobyte.String
	if !dataInfo.ReadASN1(&certArea, explicit0) {
		return nil, ErrInvalidPKCS7
	}

	chain := &Chain{}
	for !certArea.Empty() {
		var certDER cryptobyte.String
		if !certArea.ReadASN1Element(&certDER, cbasn1.SEQUENCE) {
			return nil, ErrInvalidPKCS7
		}
		cert, err := x509.ParseCertificate(certDER)
		if err != nil {
			return nil, ErrInvalidPKCS7
		}
		chain.Append(cert)
	}
	if chain.Len() == 0 {
		return nil, ErrInvalidPKCS7
	}
	return chain, nil
}
