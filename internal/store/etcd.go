package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ozzus/sbe-monitor/internal/domain"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const maxPopAttempts = 32

var errPopContention = errors.New("etcd pop lost every race")

// EtcdStore keeps one key per queued job under a prefix. Keys sort by push
// time; Pop deletes the oldest key in a transaction guarded by its mod
// revision, so a job is handed to exactly one agent.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
}

func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("etcd endpoints are required")
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return cli, nil
}

func NewEtcdStore(client *clientv3.Client, prefix string) *EtcdStore {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &EtcdStore{client: client, prefix: prefix}
}

func (s *EtcdStore) Push(ctx context.Context, job *domain.Job) error {
	b, err := encodeRecord(job)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s%020d-%s", s.prefix, time.Now().UnixNano(), uuid.NewString())
	if _, err := s.client.Put(ctx, key, string(b)); err != nil {
		return fmt.Errorf("etcd put %s: %w", key, err)
	}

	return nil
}

func (s *EtcdStore) Pop(ctx context.Context) (*domain.Job, bool, error) {
	for attempt := 0; attempt < maxPopAttempts; attempt++ {
		resp, err := s.client.Get(ctx, s.prefix,
			clientv3.WithPrefix(),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
			clientv3.WithLimit(1),
		)
		if err != nil {
			return nil, false, fmt.Errorf("etcd get %s: %w", s.prefix, err)
		}
		if len(resp.Kvs) == 0 {
			return nil, false, nil
		}

		kv := resp.Kvs[0]
		key := string(kv.Key)

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(key)).
			Commit()
		if err != nil {
			return nil, false, fmt.Errorf("etcd delete %s: %w", key, err)
		}
		if !txn.Succeeded {
			// another agent took it
			continue
		}

		job, err := decodeRecord(kv.Value)
		if err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	return nil, false, errPopContention
}

func (s *EtcdStore) Len(ctx context.Context) (int, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("etcd count %s: %w", s.prefix, err)
	}
	return int(resp.Count), nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
