package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/radarsiope/radar/data"
	"github.com/radarsiope/radar/data/dynamodb"
	"github.com/radarsiope/radar/data/inmemory"
	"github.com/radarsiope/radar/data/postgresql"
	"github.com/radarsiope/radar/data/redisdb"
	"github.com/radarsiope/radar/data/sqlite3"
	"github.com/radarsiope/radar/email"
	"github.com/radarsiope/radar/email/mailgunmail"
	"github.com/radarsiope/radar/email/sesmail"
	"github.com/radarsiope/radar/email/smtpmail"
	"github.com/radarsiope/radar/gate"
	"github.com/radarsiope/radar/radar"
	log "github.com/sirupsen/logrus"
)

const inMemory = "memory"
const postgreSQL = "postgres"
const sqlite = "sqlite3"
const dynamoDB = "dynamo"
const redisDB = "redis"

const ses = "ses"
const mailgun = "mailgun"
const smtp = "smtp"

// loadEnv reads a .env file when there is one. Variables already set win.
func loadEnv() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to read .env file")
	}
}

func setupLogging() {
	if parseStringVarWithDefault("LOG_FORMAT", "text") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	lvl, err := log.ParseLevel(parseStringVarWithDefault("LOG_LEVEL", "info"))
	if err != nil {
		log.WithError(err).Warn("invalid LOG_LEVEL, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func mustParseConfig() radar.Config {
	loc, err := time.LoadLocation(parseStringVarWithDefault("TIMEZONE", "America/Sao_Paulo"))
	if err != nil {
		log.WithError(err).Fatal("invalid TIMEZONE")
	}

	return radar.Config{
		Key:             mustParseStringVar("KEY"),
		URL:             mustParseStringVar("WEBSITE_URL"),
		Developing:      parseBoolVarWithDefault("DEVELOPING", false),
		UsingLambda:     parseBoolVarWithDefault("LAMBDA", false),
		RestoreRealIP:   parseBoolVarWithDefault("RESTORE_REAL_IP", false),
		RateLimit:       parseIntVarWithDefault("RATE_LIMIT", 14),
		AccessThreshold: int64(parseIntVarWithDefault("ACCESS_THRESHOLD", gate.DefaultThreshold)),
		Location:        loc,
		ClickBeaconURL:  parseStringVar("CLICK_BEACON_URL"),
		TrackLinks:      parseBoolVarWithDefault("TRACK_LINKS", false),
		LinkTTL:         parseDurationVarWithDefault("LINK_TTL", 365*24*time.Hour),
		MaxJobs:         parseIntVarWithDefault("MAX_JOBS", 5000),
	}
}

func mustParseStore() data.Store {
	dbType := parseStringVarWithDefault("DB_TYPE", inMemory)

	switch dbType {
	case inMemory:
		return inmemory.GetInMemoryDB()
	case postgreSQL:
		return postgresql.GetPostgreSQLDB(mustParseStringVar("DATABASE_URL"))
	case sqlite:
		return sqlite3.GetSQLite3DB(mustParseStringVar("DATABASE_URL"))
	case dynamoDB:
		return dynamodb.GetNewDynamoDB(mustParseStringVar("DYNAMO_TABLE"))
	case redisDB:
		return redisdb.GetRedisDB(mustParseStringVar("REDIS_URL"))
	}

	log.Fatalf("unknown DB_TYPE %v", dbType)
	return nil
}

// mustParseTransport builds the email transport. Mailgun records provider events in db.
func mustParseTransport(db data.Store) email.Transport {
	from := mustParseStringVar("MAIL_FROM")
	replyTo := parseStringVar("MAIL_REPLY_TO")

	kind := parseStringVarWithDefault("TRANSPORT", ses)

	switch kind {
	case ses:
		t, err := sesmail.NewSESMail(context.Background(),
			parseStringVarWithDefault("AWS_REGION", "us-east-1"),
			parseStringVar("AWS_ACCESS_KEY_ID"),
			parseStringVar("AWS_SECRET_ACCESS_KEY"),
			from, replyTo)
		if err != nil {
			log.WithError(err).Fatal("failed to setup ses")
		}
		return t
	case mailgun:
		return mailgunmail.NewMailgunMail(mustParseStringVar("MG_DOMAIN"), mustParseStringVar("MG_KEY"), from, replyTo, db)
	case smtp:
		return smtpmail.NewSMTPMail(
			mustParseStringVar("SMTP_HOST"),
			parseIntVarWithDefault("SMTP_PORT", 587),
			parseStringVar("SMTP_USER"),
			parseStringVar("SMTP_PASSWORD"),
			from, replyTo)
	}

	log.Fatalf("unknown TRANSPORT %v", kind)
	return nil
}

func parseStringVar(key string) string {
	return os.Getenv(key)
}

func parseBoolVar(key string) (bool, error) {
	return strconv.ParseBool(parseStringVar(key))
}

func mustParseStringVar(key string) (v string) {
	v = parseStringVar(key)
	if strings.Compare(v, "") == 0 {
		log.Fatalf("Env var %v cannot be empty", key)
	}

	return
}

func parseBoolVarWithDefault(key string, def bool) bool {
	v, err := parseBoolVar(key)
	if err != nil {
		return def
	}
	return v
}

func parseIntVarWithDefault(key string, def int) int {
	v, err := strconv.Atoi(parseStringVar(key))
	if err != nil {
		return def
	}
	return v
}

func parseDurationVarWithDefault(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(parseStringVar(key))
	if err != nil {
		return def
	}
	return v
}

func parseStringVarWithDefault(key, def string) string {
	v := parseStringVar(key)
	if v == "" {
		return def
	}
	return v
}
