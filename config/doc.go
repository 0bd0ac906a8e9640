// Package config provides the client configuration and the per-app credentials
// files.
//
// Config is filled from code, from a JSON or YAML file (Load), and from VBUS_*
// environment variables (ApplyEnv):
//
//	cfg, err := config.Load("vbus.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// VBUS_URL pins the NATS server, VBUS_PATH moves the credentials folder away from
// $HOME/vbus, and VBUS_DOMAIN, VBUS_HOSTNAME and VBUS_LOG_LEVEL override the
// matching fields.
//
// # Credentials
//
// Every app keeps a "<domain>.<app>.conf" file in the credentials folder. It is
// created on first connect with a random password. The bcrypt hash of that
// password, the user name "<hostname>.<domain>.<app>" and the subject
// permissions are published to the authorization service; the clear password
// stays in the file and is used to log in. The file also remembers the last
// NATS URL that worked:
//
//	store := config.NewStore(cfg.Path)
//	creds, created, err := store.LoadOrCreate("system.myapp", cfg.Hostname)
package config
