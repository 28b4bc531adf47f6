package util

import (
	"encoding/base64"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strconv"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupEnvFlags adds the environment flags to a command
func SetupEnvFlags(cmd *cobra.Command) {
	def := store.DefaultConfig()

	key := "path"
	cmd.PersistentFlags().String(key, ".", WrapString("Directory of the environment (must exist)"))

	key = "backend"
	cmd.PersistentFlags().String(key, string(def.Backend), WrapString("The storage engine (bolt, maple or mdbx if compiled in)"))

	key = "map-size"
	cmd.PersistentFlags().Int64(key, def.MapSize, WrapString("The maximum size of the environment in bytes"))

	key = "max-dbs"
	cmd.PersistentFlags().Int(key, def.MaxDBs, WrapString("The maximum number of stores"))

	key = "max-readers"
	cmd.PersistentFlags().Int(key, def.MaxReaders, WrapString("The maximum number of concurrent read transactions"))

	key = "writer-policy"
	cmd.PersistentFlags().String(key, string(def.WriterPolicy), WrapString("What a writer does while another one is active (block, fail-fast)"))

	key = "read-only"
	cmd.PersistentFlags().Bool(key, false, WrapString("Open the environment read-only"))

	key = "no-sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Skip the flush on commit (faster, loses the last commits on a crash)"))

	key = "no-canonicalize"
	cmd.PersistentFlags().Bool(key, false, WrapString("Do not resolve symlinks in the path"))

	key = "compression"
	cmd.PersistentFlags().String(key, def.Compression, WrapString("The compression of maple snapshots (none, snappy, zstd, lz4)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetConfig reads the environment configuration from viper
func GetConfig() *store.Config {
	return &store.Config{
		Backend:      db.Implementation(viper.GetString("backend")),
		MaxDBs:       viper.GetInt("max-dbs"),
		MapSize:      viper.GetInt64("map-size"),
		MaxReaders:   viper.GetInt("max-readers"),
		Canonicalize: !viper.GetBool("no-canonicalize"),
		ReadOnly:     viper.GetBool("read-only"),
		NoSync:       viper.GetBool("no-sync"),
		WriterPolicy: store.WriterPolicy(viper.GetString("writer-policy")),
		Compression:  viper.GetString("compression"),
	}
}

// --------------------------------------------------------------------------
// Values and Keys
// --------------------------------------------------------------------------

// ParseValue parses the command line representation of a value of the given
// type (see codec.ParseTag for the names). Blobs are base64 encoded, instants
// use RFC 3339.
func ParseValue(typ, text string) (codec.Value, error) {
	tag, err := codec.ParseTag(typ)
	if err != nil {
		return nil, err
	}
	switch tag {
	case codec.TagBool:
		b, err := strconv.ParseBool(text)
		return codec.Bool(b), err
	case codec.TagU64:
		n, err := strconv.ParseUint(text, 10, 64)
		return codec.U64(n), err
	case codec.TagI64:
		n, err := strconv.ParseInt(text, 10, 64)
		return codec.I64(n), err
	case codec.TagF64:
		f, err := strconv.ParseFloat(text, 64)
		return codec.F64(f), err
	case codec.TagInstant:
		ts, err := time.Parse(time.RFC3339Nano, text)
		return codec.InstantOf(ts), err
	case codec.TagUUID:
		return codec.ParseUUID(text)
	case codec.TagStr:
		return codec.Str(text), nil
	case codec.TagJSON:
		return codec.JSON(text), nil
	case codec.TagBlob:
		b, err := base64.StdEncoding.DecodeString(text)
		return codec.Blob(b), err
	default:
		return nil, fmt.Errorf("values of type %s cannot be given on the command line", tag)
	}
}

// EncodeKey converts a command line key for a store of the given kind.
// Integer keys are parsed as unsigned 64 bit numbers.
func EncodeKey(kind store.Kind, key string) ([]byte, error) {
	if !kind.IntegerKeys() {
		return []byte(key), nil
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store keys are integers: %w", err)
	}
	return codec.EncodeIntKey(n), nil
}

// FormatKey renders a key of a store of the given kind
func FormatKey(kind store.Kind, key []byte) string {
	if kind.IntegerKeys() {
		return codec.FormatIntKey(key)
	}
	return strconv.Quote(string(key))
}

// --------------------------------------------------------------------------
// Environments
// --------------------------------------------------------------------------

var clog = logger.GetLogger(logging.LoggerCLI)

// manager is shared by every command of the process
var manager = store.NewManager()

// OpenEnvironment opens the environment configured by the flags
func OpenEnvironment() (*store.Environment, error) {
	return OpenEnvironmentAt(viper.GetString("path"), GetConfig())
}

// OpenEnvironmentAt opens the environment at path with cfg
func OpenEnvironmentAt(path string, cfg *store.Config) (*store.Environment, error) {
	clog.Debugf("opening %s with %s", path, cfg.Backend)
	return manager.GetOrCreate(path, cfg)
}

// CloseEnvironments closes every environment opened by the commands
func CloseEnvironments() error {
	if err := manager.CloseAll(); err != nil {
		clog.Errorf("closing environments: %v", err)
		return err
	}
	return nil
}
