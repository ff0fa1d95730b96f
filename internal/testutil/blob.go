package testutil

import (
	"errors"
	"sync"
)

// FakeBlobStore 内存版对象存储
type FakeBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Types   map[string]string
	Fail    bool
}

func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{
		Objects: make(map[string][]byte),
		Types:   make(map[string]string),
	}
}

func (f *FakeBlobStore) UploadFile(objectKey string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return "", errors.New("blob store unavailable")
	}
	f.Objects[objectKey] = append([]byte(nil), data...)
	f.Types[objectKey] = contentType
	return "https://blob.test/" + objectKey, nil
}
