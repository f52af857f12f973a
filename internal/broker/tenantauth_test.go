package broker

import "testing"

func TestTenantAuthVerify(t *testing.T) {
	auth := NewTenantAuth(map[string][]byte{
		"acme/": []byte("acme-secret"),
	})
	nonce := []byte("nonce-1")

	proof, ok := auth.Derive("acme/", nonce)
	if !ok {
		t.Fatal("Derive() ok = false for known tenant")
	}
	if !auth.Verify("acme/", nonce, proof) {
		t.Error("Verify() = false for correct proof")
	}
	if auth.Verify("acme/", nonce, []byte("wrong")) {
		t.Error("Verify() = true for incorrect proof")
	}
	if auth.Verify("other/", nonce, proof) {
		t.Error("Verify() = true for unknown tenant")
	}
}

func TestTenantAuthDeriveIsDeterministic(t *testing.T) {
	auth := NewTenantAuth(map[string][]byte{"a/": []byte("secret")})
	nonce := []byte("fixed-nonce")

	first, _ := auth.Derive("a/", nonce)
	second, _ := auth.Derive("a/", nonce)
	if string(first) != string(second) {
		t.Error("Derive() is not deterministic for the same secret and nonce")
	}
}
