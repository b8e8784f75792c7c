package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

// TableBackend stores preferences in Azure Table Storage. PartitionKey is the
// profile and RowKey the preference key.
type TableBackend struct {
	table tableClient
}

// NewTableBackend connects to the named table.
func NewTableBackend(connStr, table string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableBackend{table: svc.NewClient(table)}, nil
}

type preferenceEntity struct {
	aztables.Entity
	Value string `json:"Value"`
}

func (b *TableBackend) Get(ctx context.Context, profile, key string) ([]byte, error) {
	resp, err := b.table.GetEntity(ctx, tableKey(profile), tableKey(key), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var ent preferenceEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return []byte(ent.Value), nil
}

func (b *TableBackend) Put(ctx context.Context, profile, key string, value []byte) error {
	ent := preferenceEntity{
		Entity: aztables.Entity{PartitionKey: tableKey(profile), RowKey: tableKey(key)},
		Value:  string(value),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = b.table.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (b *TableBackend) Delete(ctx context.Context, profile, key string) error {
	_, err := b.table.DeleteEntity(ctx, tableKey(profile), tableKey(key), nil)
	if err != nil && isNotFound(err) {
		return ErrNotFound
	}
	return err
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

var tableKeyReplacer = strings.NewReplacer("/", "_", `\`, "_", "#", "_", "?", "_")

// tableKey strips characters Table Storage forbids in keys.
func tableKey(s string) string {
	return tableKeyReplacer.Replace(s)
}
