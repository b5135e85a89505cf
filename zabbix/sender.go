// Package zabbix pushes a single health metric per run to a Zabbix server
// over the trapper protocol. Failures to push are logged by callers and
// never affect the run result.
package zabbix

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
)

const (
	defaultTimeout = 5 * time.Second

	// trapper frame: magic, protocol version, little-endian payload length.
	headerMagic   = "ZBXD"
	headerVersion = 0x01

	// maxResponseLength bounds the allocation for the length field of the
	// server response, which is a short JSON status.
	maxResponseLength = 16 * 1024
)

type Sender struct {
	server   string
	hostname string
	key      string
	timeout  time.Duration

	logger *zap.SugaredLogger
}

// NewSender builds the sender from config; server and hostname fall back to
// the local zabbix-agentd config file when not set explicitly.
func NewSender(cfg *config.ZabbixConfig, logger *zap.SugaredLogger) (*Sender, error) {
	server := cfg.Server
	hostname := cfg.Hostname
	if server == "" || hostname == "" {
		discovered, err := readAgentConf(cfg.AgentConf)
		if err != nil {
			return nil, err
		}
		if server == "" {
			server = discovered.serverActive
		}
		if hostname == "" {
			hostname = discovered.hostname
		}
	}
	if server == "" {
		return nil, errors.New("zabbix server address shouldn't be empty")
	}
	if hostname == "" {
		return nil, errors.New("zabbix hostname shouldn't be empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		server:   server,
		hostname: hostname,
		key:      cfg.Key,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

type senderDataItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type senderRequest struct {
	Request string           `json:"request"`
	Data    []senderDataItem `json:"data"`
}

type senderResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// Send pushes one integer value for the configured host/key pair.
func (s *Sender) Send(value int) error {
	payload, err := json.Marshal(senderRequest{
		Request: "sender data",
		Data: []senderDataItem{{
			Host:  s.hostname,
			Key:   s.key,
			Value: strconv.Itoa(value),
		}},
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode zabbix payload")
	}

	conn, err := net.DialTimeout("tcp", s.server, s.timeout)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to zabbix server %s", s.server)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return errors.Wrap(err, "failed to set zabbix connection deadline")
	}

	if _, err := conn.Write(frame(payload)); err != nil {
		return errors.Wrap(err, "failed to send zabbix frame")
	}

	response, err := readFrame(conn)
	if err != nil {
		return errors.Wrap(err, "failed to read zabbix response")
	}
	var decoded senderResponse
	if err := json.Unmarshal(response, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode zabbix response")
	}
	if decoded.Response != "success" {
		return errors.Errorf("zabbix rejected the metric: %s", decoded.Info)
	}
	s.logger.Infow("Pushed zabbix metric",
		"server", s.server,
		"host", s.hostname,
		"key", s.key,
		"value", value,
		"info", decoded.Info,
	)
	return nil
}

func frame(payload []byte) []byte {
	buf := make([]byte, 0, len(headerMagic)+1+8+len(payload))
	buf = append(buf, headerMagic...)
	buf = append(buf, headerVersion)
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(payload)))
	buf = append(buf, length[:]...)
	return append(buf, payload...)
}

func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, len(headerMagic)+1+8)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	if string(header[:len(headerMagic)]) != headerMagic {
		return nil, errors.Errorf("unexpected zabbix frame header %q", header[:len(headerMagic)])
	}
	length := binary.LittleEndian.Uint64(header[len(headerMagic)+1:])
	if length > maxResponseLength {
		return nil, errors.Errorf("zabbix response length %d exceeds the %d byte limit", length, maxResponseLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
