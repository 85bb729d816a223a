package connector

import (
	utls "github.com/refraction-networking/utls"
)

// buildClientHelloSpec returns the ClientHelloSpec for helloID, with
// ALPN set to alpnProtos.
//
// Directly descended from client/tls_dialer.go's buildClientHelloSpec: for
// recognized Chrome/Firefox parrot IDs, the spec is returned from uTLS's
// parrot table (which already encodes GREASE placeholders, cipher-suite
// order, and extension shuffling); any other ID falls back to the uTLS
// default spec so unrecognized or custom IDs don't error.
func buildClientHelloSpec(helloID utls.ClientHelloID, alpnProtos []string) utls.ClientHelloSpec {
	switch helloID {
	case utls.HelloChrome_120,
		utls.HelloChrome_120_PQ,
		utls.HelloChrome_131,
		utls.HelloChrome_Auto,
		utls.HelloFirefox_120,
		utls.HelloFirefox_Auto:
		spec, err := utls.UTLSIdToSpec(helloID)
		if err == nil {
			overrideALPN(&spec, alpnProtos)
			return spec
		}
	}
	return utls.ClientHelloSpec{}
}

// overrideALPN rewrites the ALPN extension (if present) in spec to offer
// alpnProtos, so http2_only (spec.md §6) takes effect even against a parrot
// spec that otherwise hardcodes "h2,http/1.1".
func overrideALPN(spec *utls.ClientHelloSpec, alpnProtos []string) {
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = alpnProtos
			return
		}
	}
}
