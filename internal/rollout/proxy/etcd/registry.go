// Package etcd keeps per-service traffic bindings in etcd, where the
// fleet's proxies watch them. A rebind is one transactional write guarded
// by a version key, so concurrent writers serialize instead of clobbering
// each other.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/rollout"
)

const maxTxRetryAttempts = 3

var _ rollout.ProxyControl = (*Registry)(nil)

type Registry struct {
	etcd *clientv3.Client
}

func NewRegistry(ctx context.Context, endpoints []string) (*Registry, error) {
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Context:   ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Registry{etcd: clnt}, nil
}

func (r *Registry) Close() error {
	return r.etcd.Close()
}

type bindingDto struct {
	Service     string    `json:"service"`
	Endpoint    string    `json:"endpoint"`
	Fingerprint string    `json:"fingerprint"`
	Handle      string    `json:"handle"`
	BoundAt     time.Time `json:"bound_at"`
}

func (r *Registry) Rebind(ctx context.Context, service string, binding models.ProxyBinding) error {
	versionKey := bindingVersionKey(service)

	resp, err := r.etcd.Get(ctx, versionKey)
	if err != nil {
		return fmt.Errorf("failed to get binding version for %s: %w", service, err)
	}
	if len(resp.Kvs) == 0 {
		created, err := r.tryFirstBind(ctx, service, binding)
		if err != nil || created {
			return err
		}
		// Lost the creation race. Re-read and fall through to the swap loop.
		resp, err = r.etcd.Get(ctx, versionKey)
		if err != nil {
			return fmt.Errorf("failed to get binding version for %s: %w", service, err)
		}
		if len(resp.Kvs) == 0 {
			return fmt.Errorf("binding version for %s vanished after creation race", service)
		}
	}
	oldVersion, err := strconv.ParseUint(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse binding version for %s: %w", service, err)
	}

	for range maxTxRetryAttempts {
		newVersion := oldVersion + 1

		tx := r.etcd.Txn(ctx).If(
			clientv3.Compare(
				clientv3.Value(versionKey),
				"=",
				strconv.FormatUint(oldVersion, 10),
			),
		).Then(
			clientv3.OpPut(versionKey, strconv.FormatUint(newVersion, 10)),
			clientv3.OpPut(bindingKey(service), mustJsonMarshal(bindingToDto(service, binding))),
		).Else(
			clientv3.OpGet(versionKey),
		)
		resp, err := tx.Commit()
		if err != nil {
			return fmt.Errorf("failed to rebind %s: %w", service, err)
		}
		if resp.Succeeded {
			return nil
		}
		versionStr, err := extractStringFromTxnResponse(resp)
		if err != nil {
			return fmt.Errorf("failed to extract binding version for %s: %w", service, err)
		}
		lastVersion, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse binding version for %s: %w", service, err)
		}
		oldVersion = lastVersion
	}
	return fmt.Errorf("failed to rebind %s: max attempts count exceeded", service)
}

func (r *Registry) tryFirstBind(ctx context.Context, service string, binding models.ProxyBinding) (bool, error) {
	const firstVersion = "1"

	tx := r.etcd.Txn(ctx).If(
		clientv3.Compare(
			clientv3.CreateRevision(bindingVersionKey(service)), "=", 0,
		),
	).Then(
		clientv3.OpPut(bindingVersionKey(service), firstVersion),
		clientv3.OpPut(bindingKey(service), mustJsonMarshal(bindingToDto(service, binding))),
	)
	resp, err := tx.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to create binding for %s: %w", service, err)
	}
	return resp.Succeeded, nil
}

func (r *Registry) Current(ctx context.Context, service string) (models.ProxyBinding, error) {
	resp, err := r.etcd.Get(ctx, bindingKey(service))
	if err != nil {
		return models.ProxyBinding{}, fmt.Errorf("failed to get binding for %s: %w", service, err)
	}
	if len(resp.Kvs) == 0 {
		return models.ProxyBinding{}, fmt.Errorf("service %s: %w", service, rollout.ErrNotBound)
	}
	var dto bindingDto
	if err := json.Unmarshal(resp.Kvs[0].Value, &dto); err != nil {
		return models.ProxyBinding{}, fmt.Errorf("failed to unmarshal binding for %s: %w", service, err)
	}
	return models.ProxyBinding{
		Endpoint:    dto.Endpoint,
		Fingerprint: models.Fingerprint(dto.Fingerprint),
		Handle:      dto.Handle,
		BoundAt:     dto.BoundAt,
	}, nil
}

func (r *Registry) Unbind(ctx context.Context, service string) error {
	_, err := r.etcd.Txn(ctx).Then(
		clientv3.OpDelete(bindingKey(service)),
		clientv3.OpDelete(bindingVersionKey(service)),
	).Commit()
	if err != nil {
		return fmt.Errorf("failed to unbind %s: %w", service, err)
	}
	return nil
}

func bindingToDto(service string, binding models.ProxyBinding) bindingDto {
	return bindingDto{
		Service:     service,
		Endpoint:    binding.Endpoint,
		Fingerprint: string(binding.Fingerprint),
		Handle:      binding.Handle,
		BoundAt:     binding.BoundAt,
	}
}
