package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays FLO_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FLO_ALLOW_AUTO_CREATE_NAMESPACES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowAutoCreateNamespaces = b
		}
	}
	envString("FLO_DEFAULT_NAMESPACE_NAME", &cfg.DefaultNamespaceName)
	envString("FLO_NAMESPACE_NAME_REGEX", &cfg.NamespaceNameRegex)
	envInt("FLO_NAMESPACE_DEFAULTS_MAX_TABLES", &cfg.NamespaceDefaults.MaxTables)
	envInt("FLO_NAMESPACE_DEFAULTS_PAYLOAD_MAX_BYTES", &cfg.NamespaceDefaults.PayloadMaxBytes)
	envInt("FLO_MAX_NAMESPACES", &cfg.MaxNamespaces)
	envList("FLO_ALLOWED_NAMESPACES", &cfg.AllowedNamespaces)

	envString("FLO_NODE_ENDPOINT", &cfg.Node.Endpoint)
	envString("FLO_GRPC_ADDR", &cfg.Node.GRPCAddr)
	envString("FLO_HTTP_ADDR", &cfg.Node.HTTPAddr)

	envString("FLO_CLUSTER_ID", &cfg.Cluster.ClusterID)
	envList("FLO_CLUSTER_PEERS", &cfg.Cluster.Peers)
	envInt("FLO_CLUSTER_POLL_INTERVAL_MS", &cfg.Cluster.PollIntervalMs)
	envInt("FLO_CLUSTER_PROBE_TIMEOUT_MS", &cfg.Cluster.ProbeTimeoutMs)
	envString("FLO_CLUSTER_LAYOUT_STORE", &cfg.Cluster.LayoutStore)
	envList("FLO_CLUSTER_ZK_SERVERS", &cfg.Cluster.ZKServers)
	envString("FLO_CLUSTER_ZK_ROOT", &cfg.Cluster.ZKRoot)

	if v := os.Getenv("FLO_LOG_CAPACITY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Log.CapacityBytes = n
		}
	}
	envInt("FLO_LOG_HOLE_FILL_TIMEOUT_MS", &cfg.Log.HoleFillTimeoutMs)
	envInt("FLO_LOG_HOLE_FILL_POLL_MS", &cfg.Log.HoleFillPollMs)
	envInt("FLO_LOG_TRIM_INTERVAL_MS", &cfg.Log.TrimIntervalMs)

	envString("FLO_LOG_LEVEL", &cfg.Logging.Level)
	envString("FLO_LOG_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	*dst = nil
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*dst = append(*dst, p)
		}
	}
}
