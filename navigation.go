package portal

import "strings"

// NavItem is a single entry of the dashboard menu
type NavItem struct {
	Label  string `json:"label"`
	Path   string `json:"path"`
	Icon   string `json:"icon"`
	Active bool   `json:"active"`
	Method string `json:"method,omitempty"`
}

// Navigation is consumed by both the sidebar and the mobile menu, so the
// two surfaces always list the same items.
type Navigation struct {
	Primary []NavItem `json:"primary"`
	Footer  []NavItem `json:"footer"`
}

var (
	navDashboard = NavItem{Label: "Dashboard", Path: "/dashboard", Icon: "home"}
	navProfile   = NavItem{Label: "Perfil", Path: "/dashboard/profile", Icon: "user"}
	navServices  = NavItem{Label: "Serviços", Path: "/dashboard/services", Icon: "server"}
	navBilling   = NavItem{Label: "Faturação", Path: "/dashboard/billing", Icon: "credit-card"}
	navTickets   = NavItem{Label: "Pedidos de Suporte", Path: "/admin/support-tickets", Icon: "inbox"}
	navSupport   = NavItem{Label: "Suporte", Path: "/dashboard/support", Icon: "life-buoy"}
	navHelp      = NavItem{Label: "Ajuda & Recursos", Path: "/dashboard/help", Icon: "help-circle"}
	navSignOut   = NavItem{Label: "Sair", Path: "/logout", Icon: "log-out"}
)

// NavigationModel builds the menu for the given privilege level and marks
// the item matching the current path as active.
func NavigationModel(isAdmin bool, currentPath string) Navigation {
	primary := []NavItem{navDashboard, navProfile}
	if isAdmin {
		primary = append(primary, navServices, navBilling, navTickets)
	}
	primary = append(primary, navSupport)

	footer := []NavItem{navHelp, navSignOut}

	markActive(primary, currentPath)
	markActive(footer, currentPath)

	return Navigation{
		Primary: primary,
		Footer:  footer,
	}
}

// markActive flags the most specific item matching the path. The
// dashboard root only matches exactly.
func markActive(items []NavItem, currentPath string) {
	currentPath = strings.TrimRight(currentPath, "/")
	if currentPath == "" {
		currentPath = "/"
	}

	best, bestLen := -1, 0
	for i, item := range items {
		if currentPath == item.Path {
			items[i].Active = true
			return
		}
		if item.Path != navDashboard.Path && strings.HasPrefix(currentPath, item.Path+"/") && len(item.Path) > bestLen {
			best, bestLen = i, len(item.Path)
		}
	}

	if best >= 0 {
		items[best].Active = true
	}
}
