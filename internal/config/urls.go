package config

// ServiceURLs contains URLs for downstream services based on environment.
// URLs are automatically configured based on the current environment setting.
type ServiceURLs struct {
	// NotificationServiceBaseURL is the base URL for the notification service API.
	NotificationServiceBaseURL string
	// AuthServiceTokenURL is the OAuth2 token endpoint used for client-credentials grants.
	AuthServiceTokenURL string
}

// GetServiceURLs returns environment-appropriate URLs for downstream services.
//
// Example usage:
//
//	cfg, _ := config.Load()
//	urls := cfg.GetServiceURLs()
//	notificationURL := urls.NotificationServiceBaseURL
func (c *Config) GetServiceURLs() ServiceURLs {
	switch c.Environment.Environment {
	case NonProd, Prod:
		return ServiceURLs{
			NotificationServiceBaseURL: "http://notification-service.notification.svc.cluster.local:8000/api/v1/notification",
			AuthServiceTokenURL:        "http://auth-service.auth.svc.cluster.local:8080/api/v1/auth/oauth/token",
		}
	default:
		return ServiceURLs{
			NotificationServiceBaseURL: "http://sous-chef-proxy.local/api/v1/notification",
			AuthServiceTokenURL:        "http://sous-chef-proxy.local/api/v1/auth/oauth/token",
		}
	}
}
