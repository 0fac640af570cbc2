package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/telekom/smtp-relay/pkg/relayctl/client"
	"github.com/telekom/smtp-relay/pkg/relayctl/credentials"
	"github.com/telekom/smtp-relay/pkg/version"
)

func buildClient(rt *runtimeState) (*client.Client, error) {
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, err
	}

	server := rt.serverOverride
	if server == "" && ctxCfg != nil {
		server = ctxCfg.Server
	}
	if server == "" {
		return nil, errors.New("no relay configured; run 'relayctl login --server <url>' or pass --server")
	}

	token := rt.tokenOverride
	if token == "" {
		token, err = rt.TokenStore().Get(rt.ResolveContextName())
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, fmt.Errorf("not authenticated; run 'relayctl login'")
		}
		if err != nil {
			return nil, err
		}
	}

	options := []client.Option{
		client.WithServer(server),
		client.WithToken(token),
		client.WithUserAgent(version.UserAgent("relayctl")),
	}
	if rt.cfg != nil && rt.cfg.Settings.Timeout != "" {
		if timeout, parseErr := time.ParseDuration(rt.cfg.Settings.Timeout); parseErr == nil {
			options = append(options, client.WithTimeout(timeout))
		}
	}
	if ctxCfg != nil && rt.serverOverride == "" {
		options = append(options, client.WithTLSConfig(ctxCfg.CAFile, ctxCfg.InsecureSkipTLSVerify))
	}
	return client.New(options...)
}
