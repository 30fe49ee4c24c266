package anchor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"geohint/internal/geo"
	"geohint/internal/model"
)

// SSHConfig describes one remote reference vantage reachable over SSH.
type SSHConfig struct {
	Name    string
	Host    string
	Port    int
	User    string
	KeyFile string
	// Password is used when no key file is configured.
	Password string
	Coord    geo.Coordinate
	// PacketCount is the number of echo requests per sample.
	PacketCount int
	Timeout     time.Duration
}

// SSHPinger samples RTT by running ping on a remote reference host.
type SSHPinger struct {
	cfg SSHConfig
}

// NewSSHPinger creates an SSH vantage pinger.
func NewSSHPinger(cfg SSHConfig) *SSHPinger {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.PacketCount == 0 {
		cfg.PacketCount = 4
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &SSHPinger{cfg: cfg}
}

// Name identifies the vantage.
func (p *SSHPinger) Name() string { return p.cfg.Name }

// Where returns the vantage's fixed coordinates.
func (p *SSHPinger) Where() geo.Coordinate { return p.cfg.Coord }

// Ping connects to the vantage and runs one flood-free ping burst against
// the target, returning the minimum observed RTT.
func (p *SSHPinger) Ping(ctx context.Context, target string) (model.RTTResult, error) {
	client, err := p.connect(ctx)
	if err != nil {
		return model.NoData(), err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return model.NoData(), fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("ping -nc %d %s", p.cfg.PacketCount, target)
	output, err := session.CombinedOutput(cmd)
	if err != nil {
		// ping exits non-zero when the target does not answer; that is a
		// valid no-data sample, not a vantage failure.
		if _, ok := err.(*ssh.ExitError); ok {
			return model.NoData(), nil
		}
		return model.NoData(), fmt.Errorf("run ping: %w", err)
	}

	return parsePingOutput(string(output)), nil
}

// connect dials the vantage with the configured credentials.
func (p *SSHPinger) connect(ctx context.Context) (*ssh.Client, error) {
	config, err := p.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// clientConfig builds the SSH client config from key or password auth.
func (p *SSHPinger) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch {
	case p.cfg.KeyFile != "":
		key, err := os.ReadFile(p.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case p.cfg.Password != "":
		auth = append(auth, ssh.Password(p.cfg.Password))
	default:
		return nil, fmt.Errorf("anchor %s: no key file or password configured", p.cfg.Name)
	}

	return &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.Timeout,
	}, nil
}
