package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/xerrors"
)

// ByteSize is a byte count that decodes from human sizes such as 10MiB.
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		*b = 0
		return nil
	}
	n, err := units.RAMInBytes(value)
	if err != nil {
		return xerrors.Errorf("parsing size %q: %w", value, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	if b <= 0 {
		return "unlimited"
	}
	return units.BytesSize(float64(b))
}

// LoadDotEnv loads the given env files (".env" when none are named) into
// the process environment. Missing files are not an error; variables
// already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !isNotExist(err) {
			return xerrors.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv overlays environment variables onto cfg, which should already
// hold defaults.
func FromEnv(cfg interface{}) error {
	if err := envconfig.Process("", cfg); err != nil {
		return xerrors.Errorf("reading environment: %w", err)
	}
	return nil
}

// URL returns the amqp connection url.
func (c RabbitCfg) URL() string {
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(c.User, c.Password),
		Host:    net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:    "/" + c.VHost,
		RawPath: "/" + url.PathEscape(c.VHost),
	}
	return u.String()
}

// Validate reports missing credentials.
func (c RabbitCfg) Validate() error {
	if c.User == "" || c.Password == "" {
		return xerrors.New("RABBITMQ_USER and RABBITMQ_PASSWORD are required")
	}
	if c.PrefetchCount < 0 {
		return xerrors.Errorf("RABBITMQ_PREFETCH_COUNT must be >= 0, got %d", c.PrefetchCount)
	}
	return nil
}

// Validate reports missing credentials or bucket.
func (c MinioCfg) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "MINIO_ENDPOINT")
	}
	if c.AccessKey == "" {
		missing = append(missing, "MINIO_ACCESS_KEY")
	}
	if c.SecretKey == "" {
		missing = append(missing, "MINIO_SECRET_KEY")
	}
	if c.Bucket == "" {
		missing = append(missing, "MINIO_BUCKET")
	}
	if len(missing) > 0 {
		return xerrors.Errorf("missing settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DSN returns a lib/pq connection string.
func (c PostgresCfg) DSN() string {
	kv := []string{
		"host=" + quoteDSN(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + quoteDSN(c.Database),
		"sslmode=" + quoteDSN(c.SSLMode),
	}
	if c.User != "" {
		kv = append(kv, "user="+quoteDSN(c.User))
	}
	if c.Password != "" {
		kv = append(kv, "password="+quoteDSN(c.Password))
	}
	return strings.Join(kv, " ")
}

// Route returns the input route.
func (r InputRoute) Route() Route {
	return Route{Exchange: r.Exchange, Queue: r.Queue, RoutingKey: r.RoutingKey}
}

// Route returns the output route.
func (r OutputRoute) Route() Route {
	return Route{Exchange: r.Exchange, Queue: r.Queue, RoutingKey: r.RoutingKey}
}

// TextRoute is where the reader publishes extracted documents.
func (c *ReaderCfg) TextRoute() Route {
	return Route{Exchange: c.Exchange, Queue: c.Queue, RoutingKey: c.RoutingKey}
}

// DeleteRoute is where the reader publishes deletions.
func (c *ReaderCfg) DeleteRoute() Route {
	return Route{Exchange: c.DeleteExchange, Queue: c.DeleteQueue, RoutingKey: c.DeleteRoutingKey}
}

// DeleteRoute is where the indexer consumes deletions.
func (c *IndexerCfg) DeleteRoute() Route {
	return Route{Exchange: c.DeleteExchange, Queue: c.DeleteQueue, RoutingKey: c.DeleteRoutingKey}
}

// OllamaURL returns Host as a base url. A bare host or host:port, as the
// Ollama server itself accepts, gets the http scheme and port 11434.
func (c *ModelCfg) OllamaURL() string {
	h := strings.TrimRight(strings.TrimSpace(c.Host), "/")
	if h == "" {
		return "http://localhost:11434"
	}
	if strings.Contains(h, "://") {
		return h
	}
	if _, _, err := net.SplitHostPort(h); err != nil {
		h = net.JoinHostPort(h, "11434")
	}
	return "http://" + h
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
