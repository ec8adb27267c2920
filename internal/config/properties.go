package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"txpub/broker"
)

const EnvPrefix = "TXPUB_"

// Recognized client property keys.
const (
	KeyBootstrapServers     = "bootstrap.servers"
	KeySecurityProtocol     = "security.protocol"
	KeySASLMechanism        = "sasl.mechanism"
	KeySASLUsername         = "sasl.username"
	KeySASLPassword         = "sasl.password"
	KeySASLJAAS             = "sasl.jaas.config"
	KeyClientID             = "client.id"
	KeyAcks                 = "acks"
	KeyTransactionalID      = "transactional.id"
	KeyTransactionTimeoutMS = "transaction.timeout.ms"
	KeyBrokerVersion        = "broker.version"
)

var defaults = map[string]string{
	KeySecurityProtocol:     "SASL_SSL",
	KeySASLMechanism:        "PLAIN",
	KeyAcks:                 "all",
	KeyTransactionalID:      "t01",
	KeyTransactionTimeoutMS: "30000",
	KeyBrokerVersion:        "2.8.0",
}

// Properties is an immutable set of client properties. Merge returns a new
// value and leaves the receiver untouched.
type Properties struct {
	m map[string]string
}

func NewProperties(m map[string]string) Properties {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Properties{m: cp}
}

func (p Properties) Get(key string) string { return p.m[key] }

func (p Properties) Lookup(key string) (string, bool) {
	v, ok := p.m[key]
	return v, ok
}

func (p Properties) Len() int { return len(p.m) }

func (p Properties) Keys() []string {
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge overlays over on top of p.
func (p Properties) Merge(over map[string]string) Properties {
	out := make(map[string]string, len(p.m)+len(over))
	for k, v := range p.m {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return Properties{m: out}
}

// LoadClient reads a client config file, overlays TXPUB_* environment
// variables and fills defaults. Files ending in .yml/.yaml are YAML (nested
// keys flatten to dotted ones); anything else is key=value text.
func LoadClient(path string) (Properties, error) {
	if path == "" {
		return Properties{}, &Error{Err: errors.New("no client config file given")}
	}

	kf := koanf.New(".")
	var pa koanf.Parser = dotenv.Parser()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		pa = yaml.Parser()
	}
	if err := kf.Load(file.Provider(path), pa); err != nil {
		return Properties{}, &Error{Path: path, Err: err}
	}

	ke := koanf.New(".")
	if err := ke.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Properties{}, &Error{Err: err}
	}

	m := make(map[string]string, len(defaults))
	for k, v := range defaults {
		m[k] = v
	}
	flattenInto(m, kf.All())
	flattenInto(m, ke.All())

	p := Properties{m: m}
	if err := p.validate(); err != nil {
		if ce, ok := err.(*Error); ok {
			ce.Path = path
		}
		return Properties{}, err
	}
	return p, nil
}

// TXPUB_BOOTSTRAP_SERVERS → bootstrap.servers
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

func flattenInto(dst map[string]string, src map[string]any) {
	for k, v := range src {
		switch vv := v.(type) {
		case []any:
			parts := make([]string, 0, len(vv))
			for _, e := range vv {
				parts = append(parts, fmt.Sprint(e))
			}
			dst[k] = strings.Join(parts, ",")
		case nil:
			dst[k] = ""
		default:
			dst[k] = strings.TrimSpace(fmt.Sprint(vv))
		}
	}
}

func (p Properties) brokers() []string {
	var out []string
	for _, b := range strings.Split(p.Get(KeyBootstrapServers), ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (p Properties) protocol() string {
	return strings.ToUpper(strings.TrimSpace(p.Get(KeySecurityProtocol)))
}

func usesSASL(protocol string) bool {
	return protocol == "SASL_SSL" || protocol == "SASL_PLAINTEXT"
}

func (p Properties) validate() error {
	if len(p.brokers()) == 0 {
		return &Error{Key: KeyBootstrapServers, Err: errors.New("required")}
	}
	proto := p.protocol()
	switch proto {
	case "SASL_SSL", "SASL_PLAINTEXT", "SSL", "PLAINTEXT":
	default:
		return &Error{Key: KeySecurityProtocol, Err: fmt.Errorf("unsupported value %q", proto)}
	}
	if usesSASL(proto) {
		if _, err := p.credentials(); err != nil {
			return err
		}
	}
	return nil
}

var jaasField = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)

// credentials prefers explicit sasl.username/sasl.password and falls back to
// the username/password fields of sasl.jaas.config.
func (p Properties) credentials() (*broker.SASL, error) {
	s := &broker.SASL{
		Mechanism: strings.ToUpper(strings.TrimSpace(p.Get(KeySASLMechanism))),
		User:      p.Get(KeySASLUsername),
		Password:  p.Get(KeySASLPassword),
	}
	if s.Mechanism == "" {
		s.Mechanism = "PLAIN"
	}
	if s.Mechanism != "PLAIN" {
		return nil, &Error{Key: KeySASLMechanism, Err: fmt.Errorf("unsupported mechanism %q", s.Mechanism)}
	}
	if s.User == "" && s.Password == "" {
		for _, m := range jaasField.FindAllStringSubmatch(p.Get(KeySASLJAAS), -1) {
			switch m[1] {
			case "username":
				s.User = m[2]
			case "password":
				s.Password = m[2]
			}
		}
	}
	if s.User == "" || s.Password == "" {
		return nil, &Error{Key: KeySASLUsername, Err: errors.New("SASL credentials required (sasl.username/sasl.password or sasl.jaas.config)")}
	}
	return s, nil
}

// Settings validates the merged properties and returns the typed view the
// broker drivers consume.
func (p Properties) Settings() (broker.Settings, error) {
	if err := p.validate(); err != nil {
		return broker.Settings{}, err
	}
	proto := p.protocol()
	s := broker.Settings{
		Brokers:         p.brokers(),
		ClientID:        p.Get(KeyClientID),
		Version:         p.Get(KeyBrokerVersion),
		TLS:             proto == "SASL_SSL" || proto == "SSL",
		TransactionalID: strings.TrimSpace(p.Get(KeyTransactionalID)),
	}
	if usesSASL(proto) {
		creds, err := p.credentials()
		if err != nil {
			return broker.Settings{}, err
		}
		s.SASL = creds
	}

	switch acks := strings.ToLower(strings.TrimSpace(p.Get(KeyAcks))); acks {
	case "", "all", "-1":
		s.RequiredAcks = "all"
	default:
		return broker.Settings{}, &Error{Key: KeyAcks, Err: fmt.Errorf("%q not allowed for transactions (want all)", acks)}
	}

	if s.TransactionalID == "" {
		return broker.Settings{}, &Error{Key: KeyTransactionalID, Err: errors.New("required")}
	}

	if raw := strings.TrimSpace(p.Get(KeyTransactionTimeoutMS)); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return broker.Settings{}, &Error{Key: KeyTransactionTimeoutMS, Err: fmt.Errorf("want a positive integer, got %q", raw)}
		}
		s.TransactionTimeout = time.Duration(ms) * time.Millisecond
	}
	return s, nil
}
