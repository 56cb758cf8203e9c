// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

// Package storage describes where partitions write their backups and checks
// that a destination is usable before a policy referencing it is accepted.
package storage

import (
	"errors"
	"fmt"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/validation"
)

// ErrUnsupportedKind is returned for a storage kind this build cannot
// translate. It is a contract error and is never retried.
var ErrUnsupportedKind = errors.New("unsupported backup storage kind")

// Kind selects the backup destination type.
type Kind string

const (
	KindFileShare        Kind = "FileShare"
	KindAzureBlob        Kind = "AzureBlobStore"
	KindManagedAzureBlob Kind = "ManagedAzureBlobStore"
)

// Descriptor is a backup destination. Exactly the sub-struct matching Kind
// is set.
type Descriptor struct {
	Kind             Kind              `json:"kind" validate:"required"`
	FriendlyName     string            `json:"friendly_name,omitempty" validate:"max=256"`
	FileShare        *FileShare        `json:"file_share,omitempty"`
	AzureBlob        *AzureBlob        `json:"azure_blob,omitempty"`
	ManagedAzureBlob *ManagedAzureBlob `json:"managed_azure_blob,omitempty"`
}

// FileShare is an SMB share or a locally mounted directory. Credentials are
// optional; a secondary pair is used when the primary is rotated.
type FileShare struct {
	Path              string `json:"path" validate:"required"`
	PrimaryUserName   string `json:"primary_user_name,omitempty"`
	PrimaryPassword   string `json:"primary_password,omitempty" validate:"required_with=PrimaryUserName"`
	SecondaryUserName string `json:"secondary_user_name,omitempty" validate:"excluded_without=PrimaryUserName"`
	SecondaryPassword string `json:"secondary_password,omitempty" validate:"required_with=SecondaryUserName"`
}

// AzureBlob is a container reached with a storage account connection string.
type AzureBlob struct {
	ConnectionString string `json:"connection_string" validate:"required"`
	ContainerName    string `json:"container_name" validate:"required,min=3,max=63"`
	FolderPath       string `json:"folder_path,omitempty"`
}

// ManagedAzureBlob is a container reached with a managed identity.
type ManagedAzureBlob struct {
	StorageAccountName      string `json:"storage_account_name" validate:"required,min=3,max=24,alphanum"`
	ContainerName           string `json:"container_name" validate:"required,min=3,max=63"`
	FolderPath              string `json:"folder_path,omitempty"`
	ManagedIdentityClientID string `json:"managed_identity_client_id,omitempty" validate:"omitempty,uuid"`
	// BlobServiceURL overrides the account's public blob endpoint.
	BlobServiceURL string `json:"blob_service_url,omitempty" validate:"omitempty,url"`
}

// Validate checks that the sub-struct matching Kind is present and valid and
// that no other sub-struct is set.
func (d *Descriptor) Validate() error {
	var target any
	switch d.Kind {
	case KindFileShare:
		if d.FileShare == nil || d.AzureBlob != nil || d.ManagedAzureBlob != nil {
			return fmt.Errorf("storage %s: exactly the file_share block must be set", d.Kind)
		}
		target = d.FileShare
	case KindAzureBlob:
		if d.AzureBlob == nil || d.FileShare != nil || d.ManagedAzureBlob != nil {
			return fmt.Errorf("storage %s: exactly the azure_blob block must be set", d.Kind)
		}
		target = d.AzureBlob
	case KindManagedAzureBlob:
		if d.ManagedAzureBlob == nil || d.FileShare != nil || d.AzureBlob != nil {
			return fmt.Errorf("storage %s: exactly the managed_azure_blob block must be set", d.Kind)
		}
		target = d.ManagedAzureBlob
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}

	if verr := validation.ValidateStruct(target); verr != nil {
		return fmt.Errorf("storage %s: %w", d.Kind, verr)
	}
	return nil
}

// ToWire translates d into the form sent to partitions.
func ToWire(d *Descriptor) (fabric.BackupStorage, error) {
	switch d.Kind {
	case KindFileShare:
		if d.FileShare == nil {
			return fabric.BackupStorage{}, fmt.Errorf("storage %s: missing file_share block", d.Kind)
		}
		fs := d.FileShare
		return fabric.BackupStorage{
			StorageKind:       string(d.Kind),
			Path:              fs.Path,
			PrimaryUserName:   fs.PrimaryUserName,
			PrimaryPassword:   fs.PrimaryPassword,
			SecondaryUserName: fs.SecondaryUserName,
			SecondaryPassword: fs.SecondaryPassword,
		}, nil
	case KindAzureBlob:
		if d.AzureBlob == nil {
			return fabric.BackupStorage{}, fmt.Errorf("storage %s: missing azure_blob block", d.Kind)
		}
		return fabric.BackupStorage{
			StorageKind:      string(d.Kind),
			ConnectionString: d.AzureBlob.ConnectionString,
			ContainerName:    d.AzureBlob.ContainerName,
			FolderPath:       d.AzureBlob.FolderPath,
		}, nil
	case KindManagedAzureBlob:
		if d.ManagedAzureBlob == nil {
			return fabric.BackupStorage{}, fmt.Errorf("storage %s: missing managed_azure_blob block", d.Kind)
		}
		m := d.ManagedAzureBlob
		return fabric.BackupStorage{
			StorageKind:             string(d.Kind),
			StorageAccountName:      m.StorageAccountName,
			ManagedIdentityClientID: m.ManagedIdentityClientID,
			ContainerName:           m.ContainerName,
			FolderPath:              m.FolderPath,
		}, nil
	default:
		return fabric.BackupStorage{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
}
