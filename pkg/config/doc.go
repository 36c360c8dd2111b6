/*
Package config loads the registry configuration and injects the process
credentials into the on-disk files the internal builder reads.

Configuration is environment-first: every setting has a REGISTRY_* variable
(see FromEnv). An optional YAML file named by REGISTRY_CONFIG_FILE seeds
defaults that the environment overrides; credentials are environment-only.

The two historic configuration shapes of the original service are unified
here, with the database backup block kept as an optional section that is
present only when REGISTRY_BACKUP_S3_BUCKET is set.

# Self-Service Credential

FromEnv generates a fresh login/token pair per process. The pair is granted
write+admin in pkg/auth and written by WriteAuthConfig into:

	{home}/.gitconfig          credential helper = store
	{home}/.git-credentials    self-service + external registry URLs
	{home}/.cargo/config.toml  registries table
	{home}/.cargo/credentials  Basic tokens per registry

The home directory defaults to the current user's and can be redirected with
REGISTRY_HOME_DIR (containers run this as a dedicated user).
*/
package config
