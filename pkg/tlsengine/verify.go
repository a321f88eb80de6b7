package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/weideli1015/tlsuv/pkg/certchain"
	"github.com/weideli1015/tlsuv/pkg/tlskey"
)

// buildVerifyPeerCertificate returns the crypto/tls.Config.VerifyPeerCertificate
// hook implementing the engine's two-step verification extension:
//
//  1. At depth 0, if the target is an IP literal and the library's only
//     complaint is a CN/hostname mismatch, a matching raw IP-SAN entry on
//     the leaf clears that mismatch.
//  2. If a custom verifier is registered, intermediates are trusted
//     unconditionally and only the leaf is handed to it; its boolean
//     result sets or clears the not-trusted flag.
//
// roots is used to re-run chain validation with InsecureSkipVerify
// disabled-equivalent semantics: since clientTLSConfig sets
// InsecureSkipVerify=true for every backend precisely so this hook has
// full control, this
// function performs the chain verification crypto/tls would otherwise do.
func buildVerifyPeerCertificate(roots *x509.CertPool, hostname string, targetIP net.IP, custom VerifyFunc) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return newError(KindProtocol, "parsing peer certificate", err)
			}
			certs = append(certs, cert)
		}
		if len(certs) == 0 {
			return newError(KindVerify, "empty peer certificate chain", nil)
		}
		leaf := certs[0]

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			DNSName:       hostname,
		}
		if custom != nil {
			// Intermediates are trusted unconditionally: skip hostname/CA
			// checks on them by verifying against a pool that includes the
			// leaf's issuers as if they were roots, and leave acceptance
			// of the leaf itself entirely to the custom verifier below.
			opts.Roots = intermediates
			if _, err := leaf.Verify(opts); err != nil {
				if !targetIPMatchesSAN(leaf, targetIP, err) {
					return newError(KindVerify, "chain validation failed", err)
				}
			}
			if !custom(leaf) {
				return newError(KindVerify, "custom verifier rejected leaf", nil)
			}
			return nil
		}

		if _, err := leaf.Verify(opts); err != nil {
			if targetIPMatchesSAN(leaf, targetIP, err) {
				return nil
			}
			return newError(KindVerify, "chain validation failed", err)
		}
		return nil
	}
}

// targetIPMatchesSAN implements the depth-0 patch: it only claims the
// error as patchable when the failure is a hostname mismatch (not a chain
// or expiry failure) and the leaf carries a raw IP-SAN entry equal to
// targetIP.
func targetIPMatchesSAN(leaf *x509.Certificate, targetIP net.IP, verifyErr error) bool {
	if targetIP == nil {
		return false
	}
	var hostErr x509.HostnameError
	if !errorsAs(verifyErr, &hostErr) {
		return false
	}
	return certchain.MatchesIPSAN(leaf, targetIP)
}

// errorsAs walks err's single-error Unwrap chain looking for an
// x509.HostnameError value and copies the first one found into target.
func errorsAs(err error, target *x509.HostnameError) bool {
	for err != nil {
		if he, ok := err.(x509.HostnameError); ok {
			*target = he
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// clientTLSConfig builds the crypto/tls.Config passed to a Backend's
// ClientHandshake. InsecureSkipVerify is always true because verification
// is performed entirely inside VerifyPeerCertificate, which is the only
// hook that can see the IP-SAN and custom-verifier extensions.
func clientTLSConfig(c *Context, hostname string, targetIP net.IP) *tls.Config {
	cfg := &tls.Config{
		ServerName:            hostname,
		RootCAs:               c.trustRoots,
		NextProtos:            c.alpn,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: buildVerifyPeerCertificate(c.trustRoots, hostname, targetIP, c.verify),
	}
	if c.identity != nil {
		cfg.Certificates = []tls.Certificate{identityToTLSCertificate(c.identity)}
	}
	return cfg
}

// identityToTLSCertificate adapts a tlskey.Identity (software or hardware
// key, plus its chain) into the tls.Certificate crypto/tls expects, with
// the Key itself standing in as the PrivateKey's crypto.Signer.
func identityToTLSCertificate(identity *tlskey.Identity) tls.Certificate {
	cert := tls.Certificate{PrivateKey: identity.Key}
	for _, c := range identity.Chain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	if len(identity.Chain) > 0 {
		cert.Leaf = identity.Chain[0]
	}
	return cert
}
