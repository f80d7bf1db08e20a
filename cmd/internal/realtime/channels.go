package realtime

import "fmt"

// Channel name constructors. A channel is a logical broadcast topic; the
// registry and fanout engine treat names as opaque strings, so the naming
// scheme lives here in one place.

// ChannelAppUpdates is the global channel every connection subscribes to.
const ChannelAppUpdates = "app_updates"

// Support channels, subscribed only by support-agent/admin connections.
const (
	ChannelSupportDashboard = "support_dashboard"
	ChannelSupportTickets   = "support_tickets"
)

// ChannelConversation is the per-conversation chat channel.
func ChannelConversation(conversationID string) string {
	return fmt.Sprintf("conversation_%s", conversationID)
}

// ChannelUserNotifications is a user's personal notification channel.
func ChannelUserNotifications(userID string) string {
	return fmt.Sprintf("user_notifications_%s", userID)
}

// ChannelUserMessages is a user's personal message channel, used for the
// global unread badge independently of any open chat view.
func ChannelUserMessages(userID string) string {
	return fmt.Sprintf("user_messages_%s", userID)
}

// ChannelUserCart is a user's pending-payment (cart) channel.
func ChannelUserCart(userID string) string {
	return fmt.Sprintf("user_cart_%s", userID)
}

// ChannelUserPackages is a user's package-tracking channel.
func ChannelUserPackages(userID string) string {
	return fmt.Sprintf("user_packages_%s", userID)
}

// ChannelBusiness is the channel for a business's owners and staff.
func ChannelBusiness(businessID string) string {
	return fmt.Sprintf("business_%s", businessID)
}
