package products

import "testing"

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("run-1", "/images/a.fits"); got != "run-1/images/a.fits" {
		t.Fatalf("key=%s", got)
	}
	if got := ObjectKey(" run-1 ", "a.fits"); got != "run-1/a.fits" {
		t.Fatalf("key=%s", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"img.FITS":      "application/fits",
		"manifest.json": "application/json",
		"products.tar":  "application/x-tar",
		"table.bcal":    "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Fatalf("%s: got=%s want=%s", name, got, want)
		}
	}
}

func TestNewS3StoreValidation(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewS3Store(S3Config{Endpoint: "minio.local:9000", Bucket: "products"}); err == nil {
		t.Fatal("expected error for missing credentials")
	}
	s, err := NewS3Store(S3Config{Endpoint: "minio.local:9000", Bucket: "products", AccessKey: "k", SecretKey: "s"})
	if err != nil || s == nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
