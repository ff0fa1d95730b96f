package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentTypeFor(".JPG"))
	assert.Equal(t, "image/png", ContentTypeFor(".png"))
	assert.Equal(t, "application/pdf", ContentTypeFor(".pdf"))
	assert.Equal(t, "", ContentTypeFor(".exe"))
}

func TestGetURL_CDN(t *testing.T) {
	c := &OSSClient{bucketName: "proofs", cdnDomain: "cdn.example.com"}
	assert.Equal(t, "https://cdn.example.com/payment-proofs/PUR1/a.png", c.GetURL("payment-proofs/PUR1/a.png"))
}
