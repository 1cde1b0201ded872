package storage

import (
	"context"
	"errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobBackend stores objects as blobs in a single Azure Storage
// container. Authentication follows the same DefaultAzureCredential/
// ClientSecretCredential pattern the teacher uses for Microsoft Graph
// (cloud/azuregraph.go), reused here against Storage instead of Graph.
type AzureBlobBackend struct {
	Client    *azblob.Client
	Container string
}

// NewAzureBlobBackend builds an AzureBlobBackend against accountURL using the
// default credential chain (managed identity, environment, Azure CLI login).
func NewAzureBlobBackend(accountURL, container string) (*AzureBlobBackend, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, opErr("init", accountURL, err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, opErr("init", accountURL, err)
	}
	return &AzureBlobBackend{Client: client, Container: container}, nil
}

func (b *AzureBlobBackend) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return opErr("put", path, err)
	}
	_, err = b.Client.UploadBuffer(ctx, b.Container, path, data, nil)
	if err != nil {
		return opErr("put", path, err)
	}
	return nil
}

func (b *AzureBlobBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.Client.DownloadStream(ctx, b.Container, path, nil)
	if err != nil {
		if isBlobNotFound(err) {
			return nil, notFound(path)
		}
		return nil, opErr("get", path, err)
	}
	return resp.Body, nil
}

func (b *AzureBlobBackend) Delete(ctx context.Context, path string) error {
	_, err := b.Client.DeleteBlob(ctx, b.Container, path, nil)
	if err != nil && !isBlobNotFound(err) {
		return opErr("delete", path, err)
	}
	return nil
}

func (b *AzureBlobBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(path).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if isBlobNotFound(err) {
		return false, nil
	}
	return false, opErr("get_properties", path, err)
}

func (b *AzureBlobBackend) Size(ctx context.Context, path string) (int64, error) {
	props, err := b.Client.ServiceClient().NewContainerClient(b.Container).NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if isBlobNotFound(err) {
			return 0, notFound(path)
		}
		return 0, opErr("get_properties", path, err)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func isBlobNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode == string(bloberror.BlobNotFound)
	}
	return false
}

var _ Backend = (*AzureBlobBackend)(nil)
