package appconfig

import (
	"fmt"
	"log/slog"
)

// DSN assembles the Postgres connection string for this database config.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.Name, d.ConnectionTimeout)
}

// String renders the config with its password masked, mirroring the
// original implementation's redacting Debug impl — credentials must never
// reach a log stream.
func (d DatabaseConfig) String() string {
	return fmt.Sprintf("DatabaseConfig{Host:%s Port:%d User:%s Password:PASSWORD Name:%s ConnectionTimeout:%d}",
		d.Host, d.Port, d.User, d.Name, d.ConnectionTimeout)
}

// LogValue implements slog.LogValuer so a DatabaseConfig passed to a
// structured logging call is redacted the same way String() redacts it.
func (d DatabaseConfig) LogValue() slog.Value {
	return slog.StringValue(d.String())
}
