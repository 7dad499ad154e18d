package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/instantiate/internal/config"
	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/journal"
	"github.com/yairfalse/instantiate/internal/manager"
	"github.com/yairfalse/instantiate/internal/policy"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/alibaba"
	"github.com/yairfalse/instantiate/internal/provider/aws"
	"github.com/yairfalse/instantiate/internal/provider/azure"
	"github.com/yairfalse/instantiate/internal/provider/digitalocean"
	"github.com/yairfalse/instantiate/internal/provider/gcp"
	"github.com/yairfalse/instantiate/internal/provider/huawei"
	"github.com/yairfalse/instantiate/internal/provider/ibm"
	"github.com/yairfalse/instantiate/internal/provider/linode"
	"github.com/yairfalse/instantiate/internal/provider/netlify"
	"github.com/yairfalse/instantiate/internal/provider/oracle"
	"github.com/yairfalse/instantiate/internal/provider/tencent"
)

const encryptionKeyEnv = "INSTANTIATE_ENCRYPTION_KEY"

// openCredentials builds the credential store and seeds it from the
// optional INI file and then the environment, so environment values win.
func openCredentials(c *config.Config, getenv func(string) string) (*credentials.Store, error) {
	var (
		opts    []credentials.Option
		backend *credentials.BoltBackend
	)
	if c.Credentials.StorePath != "" {
		var err error
		backend, err = credentials.OpenBolt(c.Credentials.StorePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, credentials.WithBackend(backend))
	}

	store, err := credentials.NewStoreFromSecret(getenv(encryptionKeyEnv), opts...)
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}
	if store.Ephemeral() {
		log.Warn().Msgf("%s not set, credentials are encrypted with a per-process key", encryptionKeyEnv)
	}

	if c.Credentials.File != "" {
		seeded, err := credentials.LoadFile(store, c.Credentials.File)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logSeeded("file", seeded)
	}

	seeded, err := credentials.LoadEnvFunc(store, getenv)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load credentials from environment: %w", err)
	}
	logSeeded("environment", seeded)
	return store, nil
}

func logSeeded(source string, kinds []provider.Kind) {
	if len(kinds) == 0 {
		return
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	log.Info().Str("source", source).Strs("providers", names).Msg("credentials loaded")
}

// newRegistry registers one adapter per supported vendor.
func newRegistry(c *config.Config, creds credentials.Reader) *provider.Registry {
	return provider.NewRegistry(
		aws.New(aws.Config{
			Region:        c.AWS.Region,
			LambdaRoleARN: c.AWS.LambdaRoleARN,
			ECSCluster:    c.AWS.ECSCluster,
			Subnets:       c.AWS.Subnets,
		}, creds),
		azure.New(azure.Config{ResourceGroup: c.Azure.ResourceGroup}, creds),
		gcp.New(creds),
		alibaba.New(alibaba.Config{
			ImageID:         c.Alibaba.ImageID,
			InstanceType:    c.Alibaba.InstanceType,
			SecurityGroupID: c.Alibaba.SecurityGroupID,
			VSwitchID:       c.Alibaba.VSwitchID,
		}, creds),
		ibm.New(ibm.Config{}, creds),
		oracle.New(creds),
		digitalocean.New(digitalocean.Config{Size: c.DigitalOcean.Size, Image: c.DigitalOcean.Image}, creds),
		linode.New(linode.Config{Type: c.Linode.Type, Image: c.Linode.Image}, creds),
		huawei.New(huawei.Config{
			ImageRef:  c.Huawei.ImageRef,
			FlavorRef: c.Huawei.FlavorRef,
			VpcID:     c.Huawei.VpcID,
			SubnetID:  c.Huawei.SubnetID,
		}, creds),
		tencent.New(tencent.Config{
			ImageID:      c.Tencent.ImageID,
			InstanceType: c.Tencent.InstanceType,
			Zone:         c.Tencent.Zone,
		}, creds),
		netlify.New(netlify.Config{}, creds),
	)
}

// app is everything a command needs to talk to the clouds.
type app struct {
	store   *credentials.Store
	journal *journal.Journal
	policy  *policy.Engine
	manager *manager.Manager
}

func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close credential store")
	}
}

// newApp wires credentials, adapters, policy and journal into a manager.
func newApp(ctx context.Context, c *config.Config, opts ...manager.Option) (*app, error) {
	store, err := openCredentials(c, os.Getenv)
	if err != nil {
		return nil, err
	}
	a := &app{store: store}

	a.policy, err = policy.Load(ctx, c.Policy.Files)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.journal, err = journal.Open(c.Journal.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	opts = append([]manager.Option{manager.WithPolicy(a.policy), manager.WithJournal(a.journal)}, opts...)
	a.manager = manager.New(newRegistry(c, store), manager.Config{
		CacheTTL:             c.Cache.TTL,
		ProviderTimeout:      c.Manager.ProviderTimeout,
		MaxConcurrentDeploys: c.Manager.MaxConcurrentDeploys,
	}, opts...)
	return a, nil
}
