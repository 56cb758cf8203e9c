// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/tomtom215/fabricbrs/internal/logging"
)

var (
	// ErrDestinationNotFound means the share path or container does not exist.
	ErrDestinationNotFound = errors.New("backup destination not found")

	// ErrDestinationUnreachable means the destination could not be checked.
	ErrDestinationUnreachable = errors.New("backup destination unreachable")
)

// Checker checks that a destination exists and is reachable.
type Checker interface {
	Check(ctx context.Context, d *Descriptor) error
}

// DestinationChecker checks all supported kinds. File shares are checked when
// the path is locally mounted; UNC paths are accepted unchecked. Azure
// containers are checked with a Get Container Properties call.
type DestinationChecker struct {
	// ClientOptions is passed to every blob service client.
	ClientOptions *service.ClientOptions

	// Credential, when set, is used for managed blob stores instead of a
	// managed identity or the default credential chain.
	Credential azcore.TokenCredential

	// EndpointSuffix is the blob endpoint suffix of the cloud in use.
	EndpointSuffix string

	mu    sync.Mutex
	creds map[string]azcore.TokenCredential
}

var _ Checker = (*DestinationChecker)(nil)

// NewDestinationChecker returns a checker for the public Azure cloud.
func NewDestinationChecker() *DestinationChecker {
	return &DestinationChecker{
		EndpointSuffix: "core.windows.net",
		creds:          make(map[string]azcore.TokenCredential),
	}
}

// Check checks d according to its kind.
func (p *DestinationChecker) Check(ctx context.Context, d *Descriptor) error {
	switch d.Kind {
	case KindFileShare:
		return checkFileShare(d.FileShare)
	case KindAzureBlob, KindManagedAzureBlob:
		client, containerName, err := p.blobService(d)
		if err != nil {
			return err
		}
		return checkContainer(ctx, client, containerName)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
}

// blobService builds the service client of a blob destination and returns
// it with the container name.
func (p *DestinationChecker) blobService(d *Descriptor) (*service.Client, string, error) {
	switch d.Kind {
	case KindAzureBlob:
		client, err := service.NewClientFromConnectionString(d.AzureBlob.ConnectionString, p.ClientOptions)
		if err != nil {
			return nil, "", fmt.Errorf("%w: azure blob client: %v", ErrDestinationUnreachable, err)
		}
		return client, d.AzureBlob.ContainerName, nil
	case KindManagedAzureBlob:
		m := d.ManagedAzureBlob
		cred, err := p.credentialFor(m.ManagedIdentityClientID)
		if err != nil {
			return nil, "", fmt.Errorf("%w: credential: %v", ErrDestinationUnreachable, err)
		}
		endpoint := m.BlobServiceURL
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.%s/", m.StorageAccountName, p.EndpointSuffix)
		}
		client, err := service.NewClient(endpoint, cred, p.ClientOptions)
		if err != nil {
			return nil, "", fmt.Errorf("%w: azure blob client: %v", ErrDestinationUnreachable, err)
		}
		return client, m.ContainerName, nil
	default:
		return nil, "", fmt.Errorf("%w: %q is not a blob destination", ErrUnsupportedKind, d.Kind)
	}
}

func checkFileShare(fs *FileShare) error {
	if fs == nil {
		return fmt.Errorf("%w: missing file_share block", ErrDestinationNotFound)
	}
	if strings.HasPrefix(fs.Path, `\\`) || !filepath.IsAbs(fs.Path) {
		logging.Debug().Str("path", fs.Path).Msg("Skipping check of remote file share")
		return nil
	}
	info, err := os.Stat(fs.Path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, fs.Path)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDestinationUnreachable, fs.Path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrDestinationNotFound, fs.Path)
	}
	return nil
}

func checkContainer(ctx context.Context, client *service.Client, containerName string) error {
	_, err := client.NewContainerClient(containerName).GetProperties(ctx, nil)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return fmt.Errorf("%w: container %s", ErrDestinationNotFound, containerName)
	}
	return fmt.Errorf("%w: container %s: %v", ErrDestinationUnreachable, containerName, err)
}

func (p *DestinationChecker) credentialFor(clientID string) (azcore.TokenCredential, error) {
	if p.Credential != nil {
		return p.Credential, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds == nil {
		p.creds = make(map[string]azcore.TokenCredential)
	}
	if cred, ok := p.creds[clientID]; ok {
		return cred, nil
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	if clientID != "" {
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(clientID),
		})
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, err
	}
	p.creds[clientID] = cred
	return cred, nil
}
