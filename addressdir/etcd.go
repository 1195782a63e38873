package addressdir

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"gfscore/apis"
)

const keyPrefix = "/gfscore/address/"

// EtcdDirectory is a Directory backed by etcd, so that chunkserver addresses
// survive a master restart and can be observed by other processes without
// going through the master's RPC surface. Grounded on the teacher's
// etcd-backed ServerAddress registration (etcd0.UpdateAddress).
type EtcdDirectory struct {
	client *clientv3.Client
}

var _ Directory = (*EtcdDirectory)(nil)

// NewEtcdDirectory connects to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: cli}, nil
}

func (d *EtcdDirectory) Update(id apis.ServerID, addr apis.ServerAddress) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.client.Put(ctx, keyPrefix+string(id), string(addr))
	return err
}

func (d *EtcdDirectory) Resolve(id apis.ServerID) (apis.ServerAddress, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := d.client.Get(ctx, keyPrefix+string(id))
	if err != nil {
		return "", err
	}
	if len(resp.Kvs) == 0 {
		return "", apis.ErrNotFound
	}
	return apis.ServerAddress(resp.Kvs[0].Value), nil
}

func (d *EtcdDirectory) Remove(id apis.ServerID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.client.Delete(ctx, keyPrefix+string(id))
	return err
}

func (d *EtcdDirectory) Close() error {
	return d.client.Close()
}
