package envelope

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte(`{"op":"list_documents"}`)

	env, err := Wrap(key, 1, 42, plaintext)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if env.AssociatedData.MsgID != 1 || env.AssociatedData.SessionID != 42 {
		t.Fatalf("unexpected associated_data: %+v", env.AssociatedData)
	}

	got, err := Unwrap(key, env)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("plaintext mismatch: got %q want %q", got, plaintext)
	}
}

func TestUnwrapRejectsTamperedAssociatedData(t *testing.T) {
	key := testKey()
	env, err := Wrap(key, 1, 42, []byte("payload"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	env.AssociatedData.SessionID = 43
	if _, err := Unwrap(key, env); err == nil {
		t.Fatal("expected tamper detection on associated_data change")
	}
}

func TestUnwrapRejectsTamperedCiphertext(t *testing.T) {
	key := testKey()
	env, err := Wrap(key, 1, 42, []byte("payload"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	env.EncryptedData.Ciphertext = env.EncryptedData.Ciphertext[:len(env.EncryptedData.Ciphertext)-2] + "00"
	if _, err := Unwrap(key, env); err == nil {
		t.Fatal("expected tamper detection on ciphertext change")
	}
}

func TestUnwrapRejectsWrongKey(t *testing.T) {
	key := testKey()
	other := make([]byte, 32)
	other[0] = 0xff

	env, err := Wrap(key, 1, 42, []byte("payload"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := Unwrap(other, env); err == nil {
		t.Fatal("expected failure decrypting with wrong key")
	}
}
