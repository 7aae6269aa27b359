package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tabula/internal/sqlutil"
	"github.com/ajitpratap0/tabula/pkg/config"
	"github.com/ajitpratap0/tabula/pkg/tabulaerrors"
)

// setup applies settings and the optional capabilities on the pinned
// connection. Called with e.mu held.
func (e *Engine) setup(ctx context.Context) error {
	for _, stmt := range settingsSQL(e.cfg.Database) {
		if err := e.execSetup(ctx, stmt); err != nil {
			return err
		}
	}

	if e.cfg.ObjectStorageEnabled() {
		if err := e.loadExtension(ctx, "httpfs"); err != nil {
			return err
		}
		if e.cfg.ObjectStorage != nil {
			if err := e.configureObjectStorage(ctx, e.cfg.ObjectStorage); err != nil {
				return tabulaerrors.Wrap(err, tabulaerrors.KindStorage, "failed to configure object storage")
			}
		}
	}

	if e.cfg.SpreadsheetEnabled() {
		if err := e.loadExtension(ctx, "excel"); err != nil {
			return err
		}
	}

	if e.cfg.RelationalExtensionEnabled() {
		if err := e.loadExtension(ctx, "postgres"); err != nil {
			return err
		}
		if r := e.cfg.Relational; r != nil {
			stmt, err := attachSQL(r)
			if err != nil {
				return err
			}
			if err := e.execSetup(ctx, stmt); err != nil {
				return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "failed to attach relational store").
					WithDetail("alias", r.AliasOrDefault())
			}
			e.alias = r.AliasOrDefault()
			e.logger.Info("relational store attached",
				zap.String("alias", e.alias),
				zap.Bool("read_only", !r.ReadWrite),
				zap.String("schema", r.Schema))
		}
	}
	return nil
}

func (e *Engine) execSetup(ctx context.Context, stmt string) error {
	if _, err := e.conn.ExecContext(ctx, stmt); err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "setup statement failed").
			WithQuery(redact(stmt))
	}
	return nil
}

func (e *Engine) loadExtension(ctx context.Context, name string) error {
	for _, stmt := range []string{"INSTALL " + name, "LOAD " + name} {
		if err := e.execSetup(ctx, stmt); err != nil {
			return tabulaerrors.Wrap(err, tabulaerrors.KindInitialization, "failed to load extension "+name)
		}
	}
	e.logger.Debug("extension loaded", zap.String("extension", name))
	return nil
}

// configureObjectStorage registers the S3 secret. Static keys are used as
// given; otherwise the credential chain is resolved in process and, failing
// that, delegated to the engine's aws extension.
func (e *Engine) configureObjectStorage(ctx context.Context, o *config.ObjectStorageConfig) error {
	name := o.SecretName
	if name == "" {
		name = config.DefaultSecretName
	}
	if err := sqlutil.CheckBareIdent("secret name", name); err != nil {
		return tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "invalid object storage configuration")
	}

	if o.HasStaticKeys() {
		creds := StaticCredentials{
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
			SessionToken:    o.SessionToken,
			Region:          o.Region,
		}
		if err := e.execSetup(ctx, staticSecretSQL(name, o, creds)); err != nil {
			return err
		}
		e.logger.Info("object storage secret created", zap.String("secret", name), zap.String("mode", "static"))
		return nil
	}

	creds, err := e.credentials.Resolve(ctx, o)
	if err == nil {
		if err := e.execSetup(ctx, staticSecretSQL(name, o, creds)); err != nil {
			return err
		}
		e.logger.Info("object storage secret created",
			zap.String("secret", name),
			zap.String("mode", "resolved_chain"),
			zap.String("region", creds.Region))
		return nil
	}

	e.logger.Warn("in-process credential resolution failed, using engine credential chain",
		zap.Error(err))
	if err := e.loadExtension(ctx, "aws"); err != nil {
		return err
	}
	if err := e.execSetup(ctx, chainSecretSQL(name, o)); err != nil {
		return err
	}
	e.logger.Info("object storage secret created", zap.String("secret", name), zap.String("mode", "credential_chain"))
	return nil
}

func settingsSQL(d config.DatabaseConfig) []string {
	var stmts []string
	if d.Threads > 0 {
		stmts = append(stmts, "SET threads = "+strconv.Itoa(d.Threads))
	}
	if d.MemoryLimit != "" {
		stmts = append(stmts, "SET memory_limit = "+sqlutil.QuoteLiteral(d.MemoryLimit))
	}
	if d.TempDirectory != "" {
		stmts = append(stmts, "SET temp_directory = "+sqlutil.QuoteLiteral(d.TempDirectory))
	}
	return stmts
}

// staticSecretSQL renders CREATE OR REPLACE SECRET for explicit keys.
func staticSecretSQL(name string, o *config.ObjectStorageConfig, c StaticCredentials) string {
	parts := []string{
		"TYPE S3",
		"KEY_ID " + sqlutil.QuoteLiteral(c.AccessKeyID),
		"SECRET " + sqlutil.QuoteLiteral(c.SecretAccessKey),
	}
	region := c.Region
	if region == "" {
		region = o.Region
	}
	if region != "" {
		parts = append(parts, "REGION "+sqlutil.QuoteLiteral(region))
	}
	if c.SessionToken != "" {
		parts = append(parts, "SESSION_TOKEN "+sqlutil.QuoteLiteral(c.SessionToken))
	}
	parts = append(parts, endpointParts(o)...)
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (%s)", name, strings.Join(parts, ", "))
}

// chainSecretSQL renders CREATE OR REPLACE SECRET using the aws extension's
// credential chain provider.
func chainSecretSQL(name string, o *config.ObjectStorageConfig) string {
	parts := []string{"TYPE S3", "PROVIDER credential_chain"}
	if o.Profile != "" {
		parts = append(parts, "PROFILE "+sqlutil.QuoteLiteral(o.Profile))
	}
	if o.Region != "" {
		parts = append(parts, "REGION "+sqlutil.QuoteLiteral(o.Region))
	}
	parts = append(parts, endpointParts(o)...)
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (%s)", name, strings.Join(parts, ", "))
}

// endpointParts handles custom S3-compatible endpoints. A scheme on the
// endpoint decides USE_SSL unless it is set explicitly.
func endpointParts(o *config.ObjectStorageConfig) []string {
	var parts []string
	useSSL := o.UseSSL
	if o.Endpoint != "" {
		endpoint := o.Endpoint
		switch {
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			if useSSL == nil {
				off := false
				useSSL = &off
			}
		}
		parts = append(parts, "ENDPOINT "+sqlutil.QuoteLiteral(strings.TrimSuffix(endpoint, "/")))
	}
	if o.URLStyle != "" {
		parts = append(parts, "URL_STYLE "+sqlutil.QuoteLiteral(o.URLStyle))
	}
	if useSSL != nil {
		parts = append(parts, "USE_SSL "+strconv.FormatBool(*useSSL))
	}
	return parts
}

// attachSQL renders the ATTACH statement for the relational store.
func attachSQL(r *config.RelationalConfig) (string, error) {
	alias := r.AliasOrDefault()
	if err := sqlutil.CheckBareIdent("relational alias", alias); err != nil {
		return "", tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "invalid relational configuration")
	}

	target := r.DSN()
	opts := []string{"TYPE postgres"}
	if !r.ReadWrite {
		opts = append(opts, "READ_ONLY")
	}
	if r.Schema != "" {
		opts = append(opts, "SCHEMA "+sqlutil.QuoteLiteral(r.Schema))
	}
	if r.SecretName != "" {
		if err := sqlutil.CheckBareIdent("relational secret name", r.SecretName); err != nil {
			return "", tabulaerrors.Wrap(err, tabulaerrors.KindConfig, "invalid relational configuration")
		}
		opts = append(opts, "SECRET "+r.SecretName)
		target = ""
	}
	return fmt.Sprintf("ATTACH %s AS %s (%s)", sqlutil.QuoteLiteral(target), alias, strings.Join(opts, ", ")), nil
}

// redact hides credentials in setup statements attached to errors.
func redact(stmt string) string {
	if strings.HasPrefix(stmt, "CREATE OR REPLACE SECRET") {
		return "CREATE OR REPLACE SECRET <redacted>"
	}
	if strings.HasPrefix(stmt, "ATTACH '") && !strings.HasPrefix(stmt, "ATTACH ''") {
		if i := strings.Index(stmt, " AS "); i > 0 {
			return "ATTACH '<redacted>'" + stmt[i:]
		}
	}
	return stmt
}
