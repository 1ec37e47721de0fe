package rpki

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var (
	testOIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	testOIDROA        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 24}
	testOIDManifest   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 26}
	testOIDSHA256     = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
)

// testCert is a self- or CA-signed certificate generated for a single
// test run, carrying a placeholder RFC 3779 IPAddrBlocks extension so
// VerifyRoot/Encompasses see every certificate as holding IP resources.
type testCert struct {
	der  []byte
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func genTestCert(t *testing.T, parent *testCert, isCA bool, cn string) *testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("rand.Int() error = %v", err)
	}
	placeholderResources, err := asn1.Marshal(struct{}{})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(7 * 24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		SubjectKeyId:          []byte(cn),
		ExtraExtensions: []pkix.Extension{
			{Id: oidIPAddrBlocks, Value: placeholderResources},
		},
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}

	parentTmpl, parentKey := tmpl, key
	if parent != nil {
		parentTmpl, parentKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentTmpl, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatalf("CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}
	return &testCert{der: der, cert: cert, key: key}
}

// wrapCMS builds a minimal RFC 5652 SignedData envelope around content,
// embedding ee's certificate as SignedData's sole certificate — the
// shape extractEECert unwraps.
func wrapCMS(t *testing.T, ee *testCert, contentType asn1.ObjectIdentifier, content []byte) []byte {
	t.Helper()
	octetString, err := asn1.Marshal(content)
	if err != nil {
		t.Fatalf("Marshal(OCTET STRING) error = %v", err)
	}
	sd := cmsSignedData{
		Version: 3,
		EncapContentInfo: cmsEncapContentInfo{
			ContentType: contentType,
			Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octetString},
		},
		Certificates: asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: ee.der},
	}
	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		t.Fatalf("Marshal(SignedData) error = %v", err)
	}
	ci := cmsContentInfo{
		ContentType: testOIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	}
	ciDER, err := asn1.Marshal(ci)
	if err != nil {
		t.Fatalf("Marshal(ContentInfo) error = %v", err)
	}
	return ciDER
}

func buildROA(t *testing.T, ee *testCert, asID int, prefixes []roaIPAddressFamily) []byte {
	t.Helper()
	roa := routeOriginAttestation{ASID: asID, IPAddrBlocks: prefixes}
	der, err := asn1.Marshal(roa)
	if err != nil {
		t.Fatalf("Marshal(RouteOriginAttestation) error = %v", err)
	}
	return wrapCMS(t, ee, testOIDROA, der)
}

func buildManifest(t *testing.T, ee *testCert, entries []manifestFileAndHash) []byte {
	t.Helper()
	mc := manifestContent{
		ManifestNumber: big.NewInt(1),
		ThisUpdate:     time.Now().Add(-time.Hour),
		NextUpdate:     time.Now().Add(7 * 24 * time.Hour),
		FileHashAlg:    testOIDSHA256,
		FileList:       entries,
	}
	der, err := asn1.Marshal(mc)
	if err != nil {
		t.Fatalf("Marshal(Manifest) error = %v", err)
	}
	return wrapCMS(t, ee, testOIDManifest, der)
}

func fileAndHash(name string, content []byte) manifestFileAndHash {
	h := sha256.Sum256(content)
	return manifestFileAndHash{File: name, Hash: asn1.BitString{Bytes: h[:], BitLength: 256}}
}

func writeCacheFile(t *testing.T, cache *Cache, u URI, data []byte) {
	t.Helper()
	w, err := cache.Writer(u)
	if err != nil {
		t.Fatalf("Writer(%s) error = %v", u, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write(%s) error = %v", u, err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit(%s) error = %v", u, err)
	}
}

// TestTraverseEndToEndEmitsVRPs builds a two-level certificate tree
// (trust anchor, one child CA) entirely in memory, writes every
// manifest/ROA/certificate through the real Cache, and runs Traverse
// with DefaultObjectReader end to end, asserting the ROA nested under
// the child CA surfaces as a correct VRP.
func TestTraverseEndToEndEmitsVRPs(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir, "global-url")
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	ta := genTestCert(t, nil, true, "TA")
	ca := genTestCert(t, ta, true, "CA1")
	mftEE := genTestCert(t, ta, false, "TA Manifest EE")
	roaEE := genTestCert(t, ca, false, "CA1 ROA EE")

	rootURI, err := NewURI("rsync://rpki.example.net/repo/ta.cer")
	if err != nil {
		t.Fatalf("NewURI() error = %v", err)
	}
	writeCacheFile(t, cache, rootURI, ta.der)

	caURI := rootURI.Join("ca1.cer")
	writeCacheFile(t, cache, caURI, ca.der)

	rootMftURI := rootURI.Join(manifestName(rootURI))
	rootMft := buildManifest(t, mftEE, []manifestFileAndHash{fileAndHash("ca1.cer", ca.der)})
	writeCacheFile(t, cache, rootMftURI, rootMft)

	roaBytes := buildROA(t, roaEE, 65001, []roaIPAddressFamily{
		{
			AddressFamily: []byte{0, 1},
			Addresses: []roaIPAddress{
				{Address: bitStringOf(t, netip.MustParsePrefix("192.0.2.0/24"))},
			},
		},
	})
	roaURI := caURI.Join("route1.roa")
	writeCacheFile(t, cache, roaURI, roaBytes)

	caMftURI := caURI.Join(manifestName(caURI))
	caMft := buildManifest(t, mftEE, []manifestFileAndHash{fileAndHash("route1.roa", roaBytes)})
	writeCacheFile(t, cache, caMftURI, caMft)

	tr := &Traverser{
		Verifier: &CertVerifier{},
		Reader:   DefaultObjectReader{},
		Cache:    cache,
		Log:      zerolog.Nop(),
		MaxDepth: 32,
	}
	table := NewTable()
	if err := tr.Traverse(context.Background(), rootURI, ta.cert.RawSubjectPublicKeyInfo, table); err != nil {
		t.Fatalf("Traverse() error = %v", err)
	}

	if table.Len() != 1 {
		t.Fatalf("table.Len() = %d, want 1", table.Len())
	}
	vrps := table.Sorted()
	v := vrps[0]
	if v.Kind != KindROA || v.ASN != 65001 || v.Prefix.String() != "192.0.2.0/24" || v.MaxLength != 24 {
		t.Fatalf("vrp = %+v, want ROA AS65001 192.0.2.0/24 maxLength 24", v)
	}
}
