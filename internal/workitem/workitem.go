// FabricBRS - Partition Backup/Restore Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fabricbrs

package workitem

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/fabricbrs/internal/fabric"
	"github.com/tomtom215/fabricbrs/internal/models"
	"github.com/tomtom215/fabricbrs/internal/storage"
)

var (
	// ErrPermanent marks a contract error. The queue drops the item instead
	// of retrying it.
	ErrPermanent = errors.New("permanent work item failure")

	// ErrInvalidWorkItem is returned when a work item's tag and payload
	// disagree or a payload field is malformed.
	ErrInvalidWorkItem = errors.New("invalid work item")
)

// Kind is the discriminant of a WorkItem.
type Kind string

const (
	KindBackupPartition    Kind = "BackupPartition"
	KindRestorePartition   Kind = "RestorePartition"
	KindSendToServiceNode  Kind = "SendToServiceNode"
	KindResolveToPartition Kind = "ResolveToPartition"
	KindUpdateEnablement   Kind = "UpdateEnablement"
)

// WorkItem is a persisted unit of deferred work. Kind comes first so the
// encoded form leads with the discriminant.
type WorkItem struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	BackupPartition    *BackupPartition    `json:"backup_partition,omitempty"`
	RestorePartition   *RestorePartition   `json:"restore_partition,omitempty"`
	SendToServiceNode  *SendToServiceNode  `json:"send_to_service_node,omitempty"`
	ResolveToPartition *ResolveToPartition `json:"resolve_to_partition,omitempty"`
	UpdateEnablement   *UpdateEnablement   `json:"update_enablement,omitempty"`
}

// BackupPartition requests one backup of a partition. Storage overrides the
// destination of the effective policy when set.
type BackupPartition struct {
	ServiceURI  string              `json:"service_uri"`
	PartitionID string              `json:"partition_id"`
	OperationID string              `json:"operation_id"`
	RequestTime time.Time           `json:"request_time"`
	Timeout     time.Duration       `json:"timeout"`
	Storage     *storage.Descriptor `json:"storage,omitempty"`
}

// RestorePhase is the checkpointed progress of a restore.
type RestorePhase string

const (
	PhaseTriggerDataLoss   RestorePhase = "TriggerDataLoss"
	PhaseDataLossTriggered RestorePhase = "DataLossTriggered"
)

// RestorePartition drives a restore request. DataLossGUID and Phase are
// progress fields rewritten at every checkpoint.
type RestorePartition struct {
	ServiceURI         string              `json:"service_uri"`
	PartitionID        string              `json:"partition_id"`
	RestoreRequestGUID string              `json:"restore_request_guid"`
	RequestTime        time.Time           `json:"request_time"`
	Timeout            time.Duration       `json:"timeout"`
	DataLossMode       fabric.DataLossMode `json:"data_loss_mode"`
	Phase              RestorePhase        `json:"phase"`
	DataLossGUID       string              `json:"data_loss_guid,omitempty"`
	DataLossAttempts   int                 `json:"data_loss_attempts"`
}

// SendToServiceNode delivers Info to one partition.
type SendToServiceNode struct {
	ServiceURI  string              `json:"service_uri"`
	PartitionID string              `json:"partition_id"`
	Info        models.WorkItemInfo `json:"info"`
}

// ResolveToPartition fans Info out to every backup-capable partition of an
// application or service.
type ResolveToPartition struct {
	ApplicationOrServiceURI string              `json:"application_or_service_uri"`
	Info                    models.WorkItemInfo `json:"info"`
}

// UpdateEnablement fans Info out to a mixed set of partition, service and
// application keys.
type UpdateEnablement struct {
	Keys []string            `json:"keys"`
	Info models.WorkItemInfo `json:"info"`
}

func newItem(kind Kind) *WorkItem {
	return &WorkItem{
		Kind:      kind,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// NewBackupPartition returns a backup item for an accepted request.
func NewBackupPartition(serviceURI, partitionID, operationID string, requested time.Time, timeout time.Duration) *WorkItem {
	w := newItem(KindBackupPartition)
	w.BackupPartition = &BackupPartition{
		ServiceURI:  serviceURI,
		PartitionID: partitionID,
		OperationID: operationID,
		RequestTime: requested.UTC(),
		Timeout:     timeout,
	}
	return w
}

// NewRestorePartition returns a restore item starting in TriggerDataLoss.
func NewRestorePartition(serviceURI, partitionID, requestID string, requested time.Time, timeout time.Duration, mode fabric.DataLossMode) *WorkItem {
	w := newItem(KindRestorePartition)
	w.RestorePartition = &RestorePartition{
		ServiceURI:         serviceURI,
		PartitionID:        partitionID,
		RestoreRequestGUID: requestID,
		RequestTime:        requested.UTC(),
		Timeout:            timeout,
		DataLossMode:       mode,
		Phase:              PhaseTriggerDataLoss,
	}
	return w
}

// NewSendToServiceNode returns an item delivering info to one partition.
func NewSendToServiceNode(serviceURI, partitionID string, info models.WorkItemInfo) *WorkItem {
	w := newItem(KindSendToServiceNode)
	w.SendToServiceNode = &SendToServiceNode{
		ServiceURI:  serviceURI,
		PartitionID: partitionID,
		Info:        info,
	}
	return w
}

// NewResolveToPartition returns an item expanding an application or service.
func NewResolveToPartition(uri string, info models.WorkItemInfo) *WorkItem {
	w := newItem(KindResolveToPartition)
	w.ResolveToPartition = &ResolveToPartition{ApplicationOrServiceURI: uri, Info: info}
	return w
}

// NewUpdateEnablement returns the top-level fan-out item for keys.
func NewUpdateEnablement(keys []string, info models.WorkItemInfo) *WorkItem {
	w := newItem(KindUpdateEnablement)
	w.UpdateEnablement = &UpdateEnablement{Keys: append([]string(nil), keys...), Info: info}
	return w
}

// Target returns the fabric key the item acts on, or "" for fan-out items
// over several keys.
func (w *WorkItem) Target() string {
	switch w.Kind {
	case KindBackupPartition:
		return models.PartitionKey(w.BackupPartition.ServiceURI, w.BackupPartition.PartitionID)
	case KindRestorePartition:
		return models.PartitionKey(w.RestorePartition.ServiceURI, w.RestorePartition.PartitionID)
	case KindSendToServiceNode:
		return models.PartitionKey(w.SendToServiceNode.ServiceURI, w.SendToServiceNode.PartitionID)
	case KindResolveToPartition:
		return w.ResolveToPartition.ApplicationOrServiceURI
	default:
		return ""
	}
}

// Validate checks that exactly the variant named by Kind is set and that
// its fields are well formed.
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidWorkItem)
	}

	set := 0
	for _, present := range []bool{
		w.BackupPartition != nil,
		w.RestorePartition != nil,
		w.SendToServiceNode != nil,
		w.ResolveToPartition != nil,
		w.UpdateEnablement != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s carries %d payloads", ErrInvalidWorkItem, w.Kind, set)
	}

	switch w.Kind {
	case KindBackupPartition:
		b := w.BackupPartition
		if b == nil {
			return mismatch(w.Kind)
		}
		if err := checkPartition(b.ServiceURI, b.PartitionID); err != nil {
			return err
		}
		if b.OperationID == "" || b.Timeout <= 0 {
			return fmt.Errorf("%w: backup needs an operation id and a positive timeout", ErrInvalidWorkItem)
		}
		if b.Storage != nil {
			if err := b.Storage.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidWorkItem, err)
			}
		}
	case KindRestorePartition:
		r := w.RestorePartition
		if r == nil {
			return mismatch(w.Kind)
		}
		if err := checkPartition(r.ServiceURI, r.PartitionID); err != nil {
			return err
		}
		if r.RestoreRequestGUID == "" || r.Timeout <= 0 {
			return fmt.Errorf("%w: restore needs a request id and a positive timeout", ErrInvalidWorkItem)
		}
		if r.Phase != PhaseTriggerDataLoss && r.Phase != PhaseDataLossTriggered {
			return fmt.Errorf("%w: unknown restore phase %q", ErrInvalidWorkItem, r.Phase)
		}
	case KindSendToServiceNode:
		s := w.SendToServiceNode
		if s == nil {
			return mismatch(w.Kind)
		}
		if err := checkPartition(s.ServiceURI, s.PartitionID); err != nil {
			return err
		}
		return checkInfo(s.Info)
	case KindResolveToPartition:
		r := w.ResolveToPartition
		if r == nil {
			return mismatch(w.Kind)
		}
		fk, err := models.ParseFabricKey(r.ApplicationOrServiceURI)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidWorkItem, err)
		}
		if fk.Level == models.LevelPartition {
			return fmt.Errorf("%w: %s targets a partition", ErrInvalidWorkItem, w.Kind)
		}
		return checkInfo(r.Info)
	case KindUpdateEnablement:
		u := w.UpdateEnablement
		if u == nil {
			return mismatch(w.Kind)
		}
		if len(u.Keys) == 0 {
			return fmt.Errorf("%w: %s has no keys", ErrInvalidWorkItem, w.Kind)
		}
		return checkInfo(u.Info)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWorkItem, w.Kind)
	}
	return nil
}

func mismatch(kind Kind) error {
	return fmt.Errorf("%w: payload does not match kind %s", ErrInvalidWorkItem, kind)
}

func checkPartition(serviceURI, partitionID string) error {
	fk, err := models.ParseFabricKey(models.PartitionKey(serviceURI, partitionID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkItem, err)
	}
	if fk.Level != models.LevelPartition || fk.Service != serviceURI {
		return fmt.Errorf("%w: %q is not a service uri", ErrInvalidWorkItem, serviceURI)
	}
	return nil
}

func checkInfo(info models.WorkItemInfo) error {
	if !info.WorkItemType.Valid() {
		return fmt.Errorf("%w: unknown work item type %q", ErrInvalidWorkItem, info.WorkItemType)
	}
	return nil
}

// Encode validates w and returns its persisted form.
func Encode(w *WorkItem) ([]byte, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses and validates a persisted work item.
func Decode(data []byte) (*WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkItem, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}
