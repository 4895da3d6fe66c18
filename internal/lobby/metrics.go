package lobby

import "github.com/prometheus/client_golang/prometheus"

var (
	metricSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_sessions_active",
		Help: "Current number of connected sessions",
	})

	metricUsersLoggedIn = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_users_logged_in",
		Help: "Current number of logged-in users",
	})

	metricChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_channels_active",
		Help: "Current number of channels with members",
	})

	metricBattlesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lobby_battles_open",
		Help: "Current number of open battles",
	})

	metricCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lobby_commands_total",
		Help: "Total protocol commands handled",
	}, []string{"command"})

	metricUnknownCommands = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_unknown_commands_total",
		Help: "Total lines with an unrecognized command",
	})

	metricLogins = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_logins_total",
		Help: "Total successful logins",
	})

	metricLoginFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_login_failures_total",
		Help: "Total denied logins",
	})

	metricRegistrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_registrations_total",
		Help: "Total accepted registrations",
	})

	metricOversizeLines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_lines_oversize_total",
		Help: "Total lines rejected for exceeding the length limit",
	})

	metricFloodedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_sessions_flooded_total",
		Help: "Total sessions disconnected by the flood sweep",
	})

	metricMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lobby_messages_sent_total",
		Help: "Total protocol lines queued to clients",
	})
)

func init() {
	prometheus.MustRegister(metricSessionsActive)
	prometheus.MustRegister(metricUsersLoggedIn)
	prometheus.MustRegister(metricChannelsActive)
	prometheus.MustRegister(metricBattlesOpen)
	prometheus.MustRegister(metricCommandsTotal)
	prometheus.MustRegister(metricUnknownCommands)
	prometheus.MustRegister(metricLogins)
	prometheus.MustRegister(metricLoginFailures)
	prometheus.MustRegister(metricRegistrations)
	prometheus.MustRegister(metricOversizeLines)
	prometheus.MustRegister(metricFloodedSessions)
	prometheus.MustRegister(metricMessagesSent)
}
