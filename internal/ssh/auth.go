package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	gssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

// authMethods 根据目标配置选择唯一的认证方式：有私钥只用私钥，否则只用密码
func authMethods(t domain.ServerTarget) ([]gssh.AuthMethod, error) {
	if t.PrivateKeyPath != "" {
		data, err := os.ReadFile(expandHome(t.PrivateKeyPath))
		if err != nil {
			return nil, fmt.Errorf("%w: read key %s: %v", domain.ErrAuthFailure, t.PrivateKeyPath, err)
		}
		var signer gssh.Signer
		if t.KeyPassphrase != "" {
			signer, err = gssh.ParsePrivateKeyWithPassphrase(data, []byte(t.KeyPassphrase))
		} else {
			signer, err = gssh.ParsePrivateKey(data)
		}
		if err != nil {
			var missing *gssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("%w: key %s is encrypted and no key_passphrase is set", domain.ErrAuthFailure, t.PrivateKeyPath)
			}
			return nil, fmt.Errorf("%w: parse key %s: %v", domain.ErrAuthFailure, t.PrivateKeyPath, err)
		}
		return []gssh.AuthMethod{gssh.PublicKeys(signer)}, nil
	}
	if t.Password != "" {
		return []gssh.AuthMethod{gssh.Password(t.Password)}, nil
	}
	return nil, fmt.Errorf("%w: %s has no credentials", domain.ErrAuthFailure, t.Name)
}

func hostKeyCallback(t domain.ServerTarget) (gssh.HostKeyCallback, error) {
	if t.KnownHostsFile == "" {
		return gssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(expandHome(t.KnownHostsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: known_hosts %s: %v", domain.ErrConnectFailure, t.KnownHostsFile, err)
	}
	return cb, nil
}

// classifyDialErr maps a dial/handshake failure onto the outcome taxonomy.
func classifyDialErr(name string, err error, ctxErr error) error {
	if ctxErr != nil {
		return fmt.Errorf("%w: connecting to %s: %v", domain.ErrTimeout, name, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: connecting to %s: %v", domain.ErrTimeout, name, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout"):
		return fmt.Errorf("%w: connecting to %s: %v", domain.ErrTimeout, name, err)
	case strings.Contains(msg, "unable to authenticate"), strings.Contains(msg, "no supported methods remain"):
		return fmt.Errorf("%w: %s: %v", domain.ErrAuthFailure, name, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrConnectFailure, name, err)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
