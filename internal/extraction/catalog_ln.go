package extraction

import (
	"context"

	"erpmigrate/internal/adapter"
)

func critical(name, description string) ExpectedTable {
	return ExpectedTable{Name: name, Description: description, Critical: true}
}

func optional(name, description string) ExpectedTable {
	return ExpectedTable{Name: name, Description: description}
}

const ionItemsEntity = "txgwi.Items/Items"

func lnCatalog() []Descriptor {
	ln := func(d Descriptor) Descriptor {
		d.SourceSystem = adapter.SystemLN
		return d
	}

	return []Descriptor{
		// Finance
		ln(Descriptor{ID: "FI_COMPANY", Name: "Companies and enterprise units", Module: "FI", Category: CategoryConfiguration,
			Tables: []ExpectedTable{
				critical("tcemm170", "Companies"),
				critical("tcemm030", "Enterprise units"),
				optional("tcmcs002", "Currencies"),
			}}),
		ln(Descriptor{ID: "FI_PERIODS", Name: "Fiscal periods", Module: "FI", Category: CategoryConfiguration,
			Tables: []ExpectedTable{critical("tfgld005", "Fiscal periods")},
			Analyze: countBy("tfgld005", "t$stat", "periodStatus")}),
		ln(Descriptor{ID: "FI_CHART_OF_ACCOUNTS", Name: "Chart of accounts", Module: "FI", Category: CategoryMasterData,
			Tables:  []ExpectedTable{critical("tfgld008", "Ledger accounts")},
			Analyze: countBy("tfgld008", "t$catg", "accountCategories")}),
		ln(Descriptor{ID: "FI_TRANSACTIONS", Name: "Finalized GL transactions", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("tfgld106", "Finalized transactions"),
				critical("tfgld100", "Batches"),
				optional("tfgld101", "Transaction documents"),
			},
			Analyze: unbalancedPeriods("tfgld106", periodFields{
				year: "t$year", period: "t$perd", amount: "t$amnt", debitCredit: "t$dbcr", creditMarker: "C",
			})}),
		ln(Descriptor{ID: "FI_BALANCES", Name: "GL balances", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("tfgld203", "Ledger history per period")}}),
		ln(Descriptor{ID: "FI_AP_OPEN_ITEMS", Name: "Payables open items", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("tfacp200", "Open entries purchase invoices")}}),
		ln(Descriptor{ID: "FI_AR_OPEN_ITEMS", Name: "Receivables open items", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("tfacr200", "Open entries sales invoices")}}),
		ln(Descriptor{ID: "FI_CASH_MANAGEMENT", Name: "Bank relations", Module: "FI", Category: CategoryConfiguration,
			Tables: []ExpectedTable{optional("tfcmg011", "Bank addresses")}}),
		ln(Descriptor{ID: "FI_TAX", Name: "Tax codes", Module: "FI", Category: CategoryConfiguration,
			Tables: []ExpectedTable{
				critical("tcmcs036", "Tax codes by country"),
				optional("tcmcs032", "Tax countries"),
			}}),

		// Controlling and assets
		ln(Descriptor{ID: "CO_DIMENSIONS", Name: "Financial dimensions", Module: "CO", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("tfgld010", "Dimensions"),
				optional("tfgld011", "Dimension types"),
			},
			Analyze: countBy("tfgld010", "t$dtyp", "dimensionTypes")}),
		ln(Descriptor{ID: "CO_BUDGETS", Name: "Budgets", Module: "CO", Category: CategoryTransactional,
			Tables: []ExpectedTable{optional("tfbgc100", "Budgets")}}),
		ln(Descriptor{ID: "AA_ASSET_GROUPS", Name: "Asset groups", Module: "AA", Category: CategoryConfiguration,
			Tables: []ExpectedTable{critical("tffam010", "Asset groups")}}),
		ln(Descriptor{ID: "AA_ASSETS", Name: "Fixed assets", Module: "AA", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("tffam100", "Assets"),
				optional("tffam200", "Asset depreciation history"),
			}}),

		// Business partners
		ln(Descriptor{ID: "BP_PARTNERS", Name: "Business partners", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("tccom100", "Business partners"),
				optional("tccom130", "Addresses"),
			},
			Analyze: duplicateNames("tccom100", "t$bpid", "t$nama")}),
		ln(Descriptor{ID: "BP_CUSTOMERS", Name: "Sold-to business partners", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("tccom110", "Sold-to business partners")}}),
		ln(Descriptor{ID: "BP_SUPPLIERS", Name: "Buy-from business partners", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("tccom120", "Buy-from business partners")}}),

		// Sales
		ln(Descriptor{ID: "SD_CONFIG", Name: "Sales offices", Module: "SD", Category: CategoryConfiguration,
			Tables: []ExpectedTable{critical("tcmcs065", "Departments and sales offices")}}),
		ln(Descriptor{ID: "SD_ORDERS", Name: "Sales orders", Module: "SD", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("tdsls400", "Sales order headers"),
				optional("tdsls401", "Sales order lines"),
			}}),
		ln(Descriptor{ID: "SD_PRICING", Name: "Price books", Module: "SD", Category: CategoryMasterData,
			Tables: []ExpectedTable{optional("tdpcg031", "Price book lines")}}),
		ln(Descriptor{ID: "SD_INVOICES", Name: "Invoicing", Module: "SD", Category: CategoryTransactional,
			Tables: []ExpectedTable{optional("cisli305", "Composed invoices")}}),

		// Materials
		ln(Descriptor{ID: "MM_MATERIALS", Name: "Items", Module: "MM", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("tcibd001", "General item data"),
				optional("tdipu001", "Item purchase data"),
				optional("tcmcs001", "Units"),
			},
			Analyze: chain(
				missingValue("tcibd001", "t$item", "t$cuni", "itemsWithoutUnit"),
				countBy("tcibd001", "t$kitm", "itemTypes"),
			)}),
		ln(Descriptor{ID: "MM_WAREHOUSES", Name: "Warehouses", Module: "MM", Category: CategoryConfiguration,
			Tables: []ExpectedTable{critical("tcmcs003", "Warehouses")}}),
		ln(Descriptor{ID: "MM_PURCHASE_ORDERS", Name: "Purchase orders", Module: "MM", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("tdpur400", "Purchase order headers"),
				optional("tdpur401", "Purchase order lines"),
			}}),

		// Warehousing
		ln(Descriptor{ID: "WM_WAREHOUSE_CONFIG", Name: "Warehouse master data", Module: "WM", Category: CategoryConfiguration,
			Tables: []ExpectedTable{
				critical("whwmd200", "Warehouse data"),
				optional("whwmd310", "Zones"),
			}}),
		ln(Descriptor{ID: "WM_LOCATIONS", Name: "Locations", Module: "WM", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("whwmd300", "Locations")}}),
		ln(Descriptor{ID: "WM_INVENTORY", Name: "Inventory by warehouse", Module: "WM", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("whwmd215", "Item inventory by warehouse")}}),

		// Manufacturing
		ln(Descriptor{ID: "PP_WORK_CENTERS", Name: "Work centers", Module: "PP", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("tirou001", "Work centers"),
				optional("tisfc000", "Shop floor parameters"),
			}}),
		ln(Descriptor{ID: "PP_BOM", Name: "Bills of material", Module: "PP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("tibom010", "Production BOM lines")}}),
		ln(Descriptor{ID: "PP_ROUTINGS", Name: "Routings", Module: "PP", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				optional("tirou101", "Routing codes"),
				critical("tirou102", "Routing operations"),
			}}),
		ln(Descriptor{ID: "PP_PRODUCTION_ORDERS", Name: "Production orders", Module: "PP", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("tisfc001", "Production orders")}}),

		// Quality, service, projects
		ln(Descriptor{ID: "QM_INSPECTION_PLANS", Name: "Inspection plans", Module: "QM", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("qmptc100", "Test procedures")}}),
		ln(Descriptor{ID: "SVC_CONTRACTS", Name: "Service contracts", Module: "SVC", Category: CategoryTransactional,
			Tables: []ExpectedTable{optional("tsctm100", "Service contracts")}}),
		ln(Descriptor{ID: "PRJ_PROJECTS", Name: "Projects", Module: "PRJ", Category: CategoryMasterData,
			Tables: []ExpectedTable{optional("tppdm600", "Projects")}}),

		// Interfaces
		ln(Descriptor{ID: "EDI_PARTNERS", Name: "EDI trading partners", Module: "EDI", Category: CategoryInterfaces,
			Tables: []ExpectedTable{
				critical("tcedi028", "Relations by network"),
				optional("tcedi001", "Supported EDI messages"),
			}}),
		ln(Descriptor{ID: "INT_EXCHANGE_SCHEMES", Name: "Exchange schemes", Module: "INT", Category: CategoryInterfaces,
			Tables: []ExpectedTable{optional("tuxch001", "Exchange schemes")}}),
		ln(Descriptor{ID: "INT_ION_ITEMS", Name: "ION item documents", Module: "INT", Category: CategoryInterfaces,
			Tables: []ExpectedTable{optional(ionItemsEntity, "Items published through ION API")},
			Live:   queryEntity(ionItemsEntity)}),

		// System
		ln(Descriptor{ID: "SYS_CUSTOMIZATIONS", Name: "Customized sessions", Module: "SYS", Category: CategorySystem,
			Tables: []ExpectedTable{
				optional("ttadv100", "Packages"),
				critical("ttadv200", "Sessions"),
			},
			Analyze: customPackages("ttadv200", "t$cpac", "t$cses", "tc", "td", "tf", "ti", "tg", "wh", "ci", "qm", "ts", "tp")}),
		ln(Descriptor{ID: "SYS_SECURITY", Name: "Users and roles", Module: "SYS", Category: CategorySystem,
			Tables: []ExpectedTable{
				critical("ttaad200", "User data"),
				optional("ttams100", "Roles"),
			}}),
		ln(Descriptor{ID: "SYS_NUMBER_GROUPS", Name: "Number groups", Module: "SYS", Category: CategorySystem,
			Tables: []ExpectedTable{
				optional("tcmcs047", "Number groups"),
				optional("tcmcs048", "First free numbers"),
			}}),
	}
}

// queryEntity reads a single business entity instead of a table.
func queryEntity(entity string) ExtractFunc {
	return func(ctx context.Context, s *Session) (*Output, error) {
		rows, err := s.QueryEntities(ctx, entity, adapter.Query{})
		if err != nil {
			return nil, err
		}
		out := newOutput(s.desc.ID)
		out.Add(entity, rows)
		return out, nil
	}
}
