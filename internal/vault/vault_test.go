package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		if _, err := New(make([]byte, size)); !errors.Is(err, ErrInvalidKeySize) {
			t.Errorf("New with %d-byte key: err = %v, want ErrInvalidKeySize", size, err)
		}
	}
	if _, err := New(testKey()); err != nil {
		t.Fatalf("New with 32-byte key: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := "sk-ant-secret"
	ciphertext, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}

	// A random nonce means two seals of the same plaintext differ.
	second, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if second == ciphertext {
		t.Error("two encryptions produced identical ciphertext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := v.Decrypt("not base64!!"); err == nil {
		t.Error("expected error for malformed ciphertext")
	}
	if _, err := v.Decrypt("aGk="); err == nil {
		t.Error("expected error for truncated ciphertext")
	}

	other, err := New(bytes.Repeat([]byte{0x13}, KeySize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ciphertext, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := other.Decrypt(ciphertext); err == nil {
		t.Error("expected error decrypting with a different key")
	}
}

func TestWorkspaceModels(t *testing.T) {
	v, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	err = v.StoreWorkspaceModel("ws-1", WorkspaceModel{
		Model:  "claude-sonnet-4-20250514",
		APIKey: "sk-ant-workspace",
	})
	if err != nil {
		t.Fatalf("StoreWorkspaceModel: %v", err)
	}

	model, err := v.GetWorkspaceModel(ctx, "ws-1", "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("GetWorkspaceModel: %v", err)
	}
	if model.APIKey != "sk-ant-workspace" {
		t.Errorf("APIKey = %q", model.APIKey)
	}

	if _, err := v.GetWorkspaceModel(ctx, "ws-1", "other"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
	if _, err := v.GetWorkspaceModel(ctx, "ws-2", "claude-sonnet-4-20250514"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound for other workspace", err)
	}

	models, err := v.ListWorkspaceModels(ctx, "ws-1")
	if err != nil {
		t.Fatalf("ListWorkspaceModels: %v", err)
	}
	if len(models) != 1 || models[0].APIKey != "sk-ant-workspace" {
		t.Errorf("models = %+v", models)
	}
}
