package connectors

import (
	"ingest/internal/etl"
	"ingest/internal/flatten"
)

// ── Toast POS ──────────────────────────────────────────────
// The Toast family shares one flattening declaration set. Each preset only
// differs in its root table and the endpoint it reads. Every endpoint except
// the restaurant list is scoped to one location: a job sets restaurantGuid
// in its source config, which fills the Toast-Restaurant-External-ID header
// and the restaurant_id column of root rows.

const toastAPI = "https://ws-api.toasttab.com"

func toastFlatten() flatten.Config {
	return flatten.Config{
		PrimaryKeys: map[string]string{"restaurant": "restaurantGuid"},
		Relationships: map[string][]flatten.Relationship{
			"orders": {
				{Field: "checks", ChildTable: "orders_check"},
				{Field: "pricingFeatures", ChildTable: "orders_pricing_feature", ValueField: "pricing_feature"},
				{Field: "marketplaceFacilitatorTaxInfo", ChildTable: "orders_marketplace_facilitator_tax_info"},
			},
			"orders_check": {
				{Field: "selections", ChildTable: "orders_check_selection"},
				{Field: "appliedDiscounts", ChildTable: "orders_check_applied_discount"},
				{Field: "appliedServiceCharges", ChildTable: "orders_check_applied_service_charge"},
				{Field: "payments", ChildTable: "orders_check_payment"},
			},
			"orders_check_applied_discount": {
				{Field: "comboItems", ChildTable: "orders_check_applied_discount_combo_item"},
				{Field: "triggers", ChildTable: "orders_check_applied_discount_trigger"},
			},
			"orders_check_applied_service_charge": {
				{Field: "appliedTaxes", ChildTable: "orders_check_applied_service_charge_applied_tax"},
			},
			"orders_check_selection": {
				{Field: "appliedTaxes", ChildTable: "orders_check_selection_applied_tax"},
				{Field: "modifiers", ChildTable: "orders_check_selection_modifier"},
			},
			"time_entry": {
				{Field: "breaks", ChildTable: "break"},
			},
			"employee": {
				{Field: "jobReferences", ChildTable: "employee_job_reference"},
				{Field: "wageOverrides", ChildTable: "employee_wage_override"},
			},
		},
		Flatten: map[string][]string{
			"orders":                 {"server", "deliveryInfo", "curbsidePickupInfo"},
			"orders_check":           {"customer", "appliedLoyaltyInfo"},
			"orders_check_selection": {"refundDetails"},
			"orders_check_payment":   {"refund", "cardDetails"},
		},
		References: map[string][]flatten.Reference{
			"orders": {
				{Field: "diningOption", SubField: "guid", As: "dining_option_guid"},
				{Field: "revenueCenter", SubField: "guid", As: "revenue_center_guid"},
				{Field: "restaurantService", SubField: "guid", As: "restaurant_service_guid"},
				{Field: "serviceArea", SubField: "guid", As: "service_area_guid"},
				{Field: "table", SubField: "guid", As: "table_guid"},
			},
			"orders_check_selection": {
				{Field: "item", SubField: "guid", As: "item_guid"},
				{Field: "itemGroup", SubField: "guid", As: "item_group_guid"},
				{Field: "salesCategory", SubField: "guid", As: "sales_category_guid"},
				{Field: "diningOption", SubField: "guid", As: "dining_option_guid"},
			},
			"orders_check_selection_modifier": {
				{Field: "item", SubField: "guid", As: "item_guid"},
				{Field: "optionGroup", SubField: "guid", As: "option_group_guid"},
			},
			"orders_check_applied_discount": {
				{Field: "discount", SubField: "guid", As: "discount_guid"},
				{Field: "approver", SubField: "guid", As: "approver_guid"},
			},
			"orders_check_payment": {
				{Field: "server", SubField: "guid", As: "server_guid"},
			},
			"shift": {
				{Field: "jobReference", SubField: "guid", As: "job_guid"},
				{Field: "employeeReference", SubField: "guid", As: "employee_guid"},
			},
			"time_entry": {
				{Field: "jobReference", SubField: "guid", As: "job_guid"},
				{Field: "employeeReference", SubField: "guid", As: "employee_guid"},
				{Field: "shiftReference", SubField: "guid", As: "shift_guid"},
			},
		},
		SyntheticKeys: []string{
			"orders_check_selection_applied_tax",
			"orders_check_applied_service_charge_applied_tax",
			"orders_check_applied_discount_trigger",
			"orders_marketplace_facilitator_tax_info",
			"break",
			"employee_wage_override",
		},
	}
}

func toastTables() []etl.TableSchema {
	pk := func(table string, keys ...string) etl.TableSchema {
		if len(keys) == 0 {
			keys = []string{"guid"}
		}
		return etl.TableSchema{Table: table, PrimaryKey: keys}
	}
	return []etl.TableSchema{
		pk("restaurant", "restaurantGuid"),
		// labor
		pk("job"),
		pk("shift"),
		pk("employee"),
		pk("employee_job_reference", "guid", "employee_guid"),
		pk("employee_wage_override"),
		pk("time_entry"),
		pk("break"),
		// configuration
		pk("alternate_payment_types"),
		pk("dining_option"),
		pk("discounts"),
		pk("menu_group"),
		pk("menu_item"),
		pk("restaurant_service"),
		pk("revenue_center"),
		pk("sale_category"),
		pk("service_area"),
		pk("tables"),
		// orders
		pk("orders"),
		pk("orders_check"),
		pk("orders_check_applied_discount"),
		pk("orders_check_applied_discount_combo_item"),
		pk("orders_check_applied_discount_trigger"),
		pk("orders_check_applied_service_charge"),
		pk("orders_check_applied_service_charge_applied_tax"),
		pk("orders_check_payment", "guid", "orders_check_guid"),
		pk("orders_check_selection", "guid", "orders_check_guid"),
		pk("orders_check_selection_applied_tax"),
		pk("orders_check_selection_modifier", "guid", "orders_check_selection_guid"),
		pk("orders_pricing_feature", "orders_guid", "pricing_feature"),
		pk("orders_marketplace_facilitator_tax_info"),
	}
}

func toastConnector(name, description, root, path string, source etl.SourceConfig) *etl.Connector {
	src := etl.SourceConfig{
		"url":              toastAPI + path,
		"method":           "GET",
		"windowStartParam": "startDate",
		"windowEndParam":   "endDate",
		"headers":          map[string]any{"Toast-Restaurant-External-ID": "${restaurantGuid}"},
		"recordFields":     map[string]any{"restaurant_id": "${restaurantGuid}"},
	}
	for k, v := range source {
		src[k] = v
	}
	return &etl.Connector{
		Name:        name,
		Description: description,
		RootTable:   root,
		SourceType:  "http",
		Source:      src,
		Flatten:     toastFlatten(),
		Tables:      toastTables(),
	}
}

// Toast returns the orders preset: bulk orders read 100 per page.
func Toast() *etl.Connector {
	return toastConnector("toast", "Toast POS orders with checks, selections, payments and taxes",
		"orders", "/orders/v2/ordersBulk", etl.SourceConfig{
			"pagination": "page",
			"pageSize":   100,
		})
}

// ToastTimeEntries reads labor time entries and their breaks.
func ToastTimeEntries() *etl.Connector {
	return toastConnector("toast_time_entries", "Toast labor time entries with breaks",
		"time_entry", "/labor/v1/timeEntries", nil)
}

// ToastEmployees reads employees with job references and wage overrides.
func ToastEmployees() *etl.Connector {
	return toastConnector("toast_employees", "Toast employees with job references and wage overrides",
		"employee", "/labor/v1/employees", nil)
}

// ToastShifts reads scheduled shifts. The endpoint takes a window but no
// pagination.
func ToastShifts() *etl.Connector {
	return toastConnector("toast_shifts", "Toast labor shifts",
		"shift", "/labor/v1/shifts", nil)
}

// ToastJobs reads the job catalogue. It accepts no window.
func ToastJobs() *etl.Connector {
	return toastConnector("toast_jobs", "Toast labor jobs",
		"job", "/labor/v1/jobs", etl.SourceConfig{"window": "none"})
}

// ToastRestaurants lists the locations the partner credentials can reach.
// Its rows carry the restaurantGuid the other presets are scoped by.
func ToastRestaurants() *etl.Connector {
	c := toastConnector("toast_restaurants", "Toast restaurants connected to the partner account",
		"restaurant", "/partners/v1/restaurants", etl.SourceConfig{"window": "none"})
	delete(c.Source, "headers")
	delete(c.Source, "recordFields")
	return c
}

type toastEndpoint struct{ name, path, table, label string }

// toastConfigEndpoints maps each /config/v2 endpoint to its table.
var toastConfigEndpoints = []toastEndpoint{
	{"toast_alternate_payment_types", "alternatePaymentTypes", "alternate_payment_types", "alternate payment types"},
	{"toast_dining_options", "diningOptions", "dining_option", "dining options"},
	{"toast_discounts", "discounts", "discounts", "discounts"},
	{"toast_menu_groups", "menuGroups", "menu_group", "menu groups"},
	{"toast_menu_items", "menuItems", "menu_item", "menu items"},
	{"toast_restaurant_services", "restaurantServices", "restaurant_service", "restaurant services"},
	{"toast_revenue_centers", "revenueCenters", "revenue_center", "revenue centers"},
	{"toast_sales_categories", "salesCategories", "sale_category", "sales categories"},
	{"toast_service_areas", "serviceAreas", "service_area", "service areas"},
	{"toast_tables", "tables", "tables", "tables"},
}

// toastConfigConnector builds a configuration preset. Config endpoints page
// by token and, for incremental jobs, only ask for entities modified since
// the window start.
func toastConfigConnector(ep toastEndpoint) *etl.Connector {
	return toastConnector(ep.name, "Toast configuration: "+ep.label,
		ep.table, "/config/v2/"+ep.path, etl.SourceConfig{
			"pagination":       "token",
			"window":           "since",
			"windowStartParam": "lastModified",
		})
}
