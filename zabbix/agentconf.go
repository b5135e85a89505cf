package zabbix

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const defaultAgentConfPath = "/etc/zabbix/zabbix_agentd.conf"

type agentConf struct {
	serverActive string
	hostname     string
}

// readAgentConf pulls ServerActive and Hostname out of a zabbix-agentd
// config file, so hosts that already run the agent need no extra wiring.
// ServerActive may list several servers; the first one is used.
func readAgentConf(path string) (*agentConf, error) {
	if path == "" {
		path = defaultAgentConfPath
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read zabbix agent config %s", path)
	}
	defer file.Close()

	conf := &agentConf{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "ServerActive":
			first, _, _ := strings.Cut(value, ",")
			conf.serverActive = strings.TrimSpace(first)
		case "Hostname":
			conf.hostname = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to scan zabbix agent config %s", path)
	}
	return conf, nil
}
