package runtime

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BrainDriveAI/plugin-engine/internal/infrastructure/logging"
	"github.com/BrainDriveAI/plugin-engine/internal/persistence"
	"github.com/BrainDriveAI/plugin-engine/internal/security/fieldcrypt"
	"github.com/BrainDriveAI/plugin-engine/internal/shared/types"
)

// EnvResolver assembles the environment a service needs before it can
// run. Values come from three places, most specific first: the user's
// settings rows (decrypted through the field cipher), the engine's
// root .env file, and the engine's own process environment.
//
// A service's EnvMapping maps an environment variable name to the
// settings field that supplies it; unmapped variables use their own
// name as the field key. Resolved values are treated as secrets: only
// variable names ever reach logs or error messages.
type EnvResolver struct {
	db      persistence.Store
	cipher  fieldcrypt.Cipher
	rootEnv string
	logger  *logging.Logger
}

func NewEnvResolver(db persistence.Store, cipher fieldcrypt.Cipher, rootEnvFile string, logger *logging.Logger) *EnvResolver {
	return &EnvResolver{
		db:      db,
		cipher:  cipher,
		rootEnv: rootEnvFile,
		logger:  logger,
	}
}

// Resolve returns the environment for svc plus the names of required
// variables that resolved to nothing. Absent variables are reported
// rather than returned as an error so that stop paths can proceed with
// whatever did resolve; err covers lookup and decryption failures.
func (r *EnvResolver) Resolve(ctx context.Context, userID string, svc *types.ServiceRuntime) (map[string]string, []string, error) {
	fileVars, err := ParseEnvFile(r.rootEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("read root env file: %w", err)
	}

	settings, err := r.loadSettings(ctx, userID, svc.SettingsID)
	if err != nil {
		return nil, nil, err
	}

	required := make(map[string]bool, len(svc.RequiredEnvVars))
	for _, name := range svc.RequiredEnvVars {
		required[name] = true
	}

	env := make(map[string]string)
	var missing []string
	for _, name := range wantedVars(svc) {
		field := name
		if mapped, ok := svc.EnvMapping[name]; ok && mapped != "" {
			field = mapped
		}
		switch {
		case settings[field] != "":
			env[name] = settings[field]
		case fileVars[name] != "":
			env[name] = fileVars[name]
		default:
			if v, ok := os.LookupEnv(name); ok && v != "" {
				env[name] = v
			} else if required[name] {
				missing = append(missing, name)
			}
		}
	}
	sort.Strings(missing)
	return env, missing, nil
}

func (r *EnvResolver) loadSettings(ctx context.Context, userID, settingsID string) (map[string]string, error) {
	if settingsID == "" {
		return nil, nil
	}
	raw, err := r.db.GetSettingsEnvVars(ctx, userID, settingsID)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", settingsID, err)
	}
	out := make(map[string]string, len(raw))
	for field, value := range raw {
		if r.cipher != nil && r.cipher.IsEncryptedValue(value) {
			plain, err := r.cipher.DecryptField(ctx, value)
			if err != nil {
				return nil, fmt.Errorf("decrypt settings field %s: %w", field, err)
			}
			value = plain
		}
		out[field] = value
	}
	return out, nil
}

// wantedVars lists every variable the service asks for: required vars
// in declared order, then mapped-only vars in sorted order.
func wantedVars(svc *types.ServiceRuntime) []string {
	seen := make(map[string]bool, len(svc.RequiredEnvVars)+len(svc.EnvMapping))
	names := make([]string, 0, len(svc.RequiredEnvVars)+len(svc.EnvMapping))
	for _, name := range svc.RequiredEnvVars {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var mapped []string
	for name := range svc.EnvMapping {
		if !seen[name] {
			seen[name] = true
			mapped = append(mapped, name)
		}
	}
	sort.Strings(mapped)
	return append(names, mapped...)
}

// ParseEnvFile reads KEY=VALUE pairs from path. Blank lines and #
// comments are skipped and surrounding quotes on values are stripped.
// A missing file yields an empty map.
func ParseEnvFile(path string) (map[string]string, error) {
	env := make(map[string]string)
	if path == "" {
		return env, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key != "" {
			env[key] = value
		}
	}
	return env, scanner.Err()
}

// WriteEnvFile writes env as sorted KEY=VALUE lines. The values
// frequently hold decrypted secrets, so the file is owner-only and its
// contents never reach the log.
func WriteEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return err
	}
	// WriteFile leaves an existing file's mode alone
	return os.Chmod(path, 0o600)
}
