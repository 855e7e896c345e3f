package migration

import "erpmigrate/internal/adapter"

// lnObject derives the common shape of an LN-sourced object: rule set LN-<ID>, one
// source table and SourceSystem on every target record.
func lnObject(id, name string, category Category, table, service string, deps []string, checks QualityChecks) Object {
	return Object{
		ID:            id,
		Name:          name,
		Category:      category,
		Dependencies:  deps,
		RuleSetID:     "LN-" + id,
		SourceTable:   table,
		TargetService: service,
		Checks:        checks,
	}
}

func deps(ids ...string) []string { return ids }

func required(fields ...string) QualityChecks { return QualityChecks{Required: fields} }

func keyed(keys []string, req ...string) QualityChecks {
	return QualityChecks{Required: append(append([]string(nil), keys...), req...), ExactDuplicate: keys}
}

// LNObjects is the built-in catalog for Infor LN to S/4HANA, in registration order.
func LNObjects() []Object {
	journal := lnObject("JOURNAL_ENTRY", "GL journal entries", CategoryTransactional, "tfgld106", "API_JOURNALENTRYITEMBASIC_SRV",
		deps("GL_ACCOUNT"), required("SAKNR", "BUKRS", "GJAHR", "MONAT", "WRBTR"))
	journal.RuleSetID = "LN-FI"

	costCenter := lnObject("COST_CENTER", "Cost centers", CategoryMasterData, "tfgld010", "API_COSTCENTER_SRV",
		deps("CO_CONFIG"), keyed([]string{"KOSTL", "KOKRS"}, "KTEXT"))
	costCenter.SourceFilters = []adapter.Filter{{Field: "t$dtyp", Op: adapter.OpEq, Value: 1}}

	profitCenter := lnObject("PROFIT_CENTER", "Profit centers", CategoryMasterData, "tfgld010", "API_PROFITCENTER_SRV",
		deps("CO_CONFIG"), keyed([]string{"PRCTR", "KOKRS"}))
	profitCenter.SourceFilters = []adapter.Filter{{Field: "t$dtyp", Op: adapter.OpEq, Value: 2}}

	return []Object{
		// Configuration first so that dependencies are always registered before use.
		lnObject("FI_CONFIG", "Company codes", CategoryConfiguration, "tcemm170", "API_COMPANYCODE_SRV",
			nil, keyed([]string{"BUKRS"}, "WAERS")),
		lnObject("CO_CONFIG", "Controlling areas", CategoryConfiguration, "tcemm170", "API_CONTROLLINGAREA_SRV",
			deps("FI_CONFIG"), keyed([]string{"KOKRS"})),
		lnObject("ASSET_CONFIG", "Asset classes", CategoryConfiguration, "tffam010", "API_ASSETCLASS_SRV",
			deps("FI_CONFIG"), keyed([]string{"ANLKL"})),
		lnObject("SD_CONFIG", "Sales organizations", CategoryConfiguration, "tcmcs065", "API_SALESORGANIZATION_SRV",
			deps("FI_CONFIG"), keyed([]string{"VKORG"})),
		lnObject("MM_CONFIG", "Plants", CategoryConfiguration, "tcmcs003", "API_PLANT_SRV",
			deps("FI_CONFIG"), keyed([]string{"WERKS"}, "BUKRS")),
		lnObject("PP_CONFIG", "Production schedulers", CategoryConfiguration, "tisfc000", "API_PRODUCTIONPLANNING_SRV",
			deps("MM_CONFIG"), keyed([]string{"FEVOR"})),
		lnObject("WM_CONFIG", "Warehouses", CategoryConfiguration, "whwmd200", "API_WAREHOUSE_SRV",
			deps("MM_CONFIG"), keyed([]string{"LGNUM"})),

		// Finance master data
		lnObject("GL_ACCOUNT", "GL accounts", CategoryMasterData, "tfgld008", "API_GLACCOUNTINCHARTOFACCOUNTS_SRV",
			deps("FI_CONFIG"), keyed([]string{"SAKNR", "KTOPL"}, "TXT50")),
		costCenter,
		profitCenter,
		lnObject("FIXED_ASSET", "Fixed assets", CategoryMasterData, "tffam100", "API_FIXEDASSET_SRV",
			deps("ASSET_CONFIG", "COST_CENTER"), keyed([]string{"ANLN1", "BUKRS"}, "ANLKL")),

		// Logistics master data
		lnObject("BUSINESS_PARTNER", "Business partners", CategoryMasterData, "tccom100", "API_BUSINESS_PARTNER",
			nil, keyed([]string{"PARTNER"}, "NAME_ORG1")),
		lnObject("CUSTOMER", "Customer sales areas", CategoryMasterData, "tccom110", "API_BUSINESS_PARTNER",
			deps("BUSINESS_PARTNER", "SD_CONFIG"), keyed([]string{"KUNNR", "VKORG"})),
		lnObject("SUPPLIER", "Supplier purchasing organizations", CategoryMasterData, "tccom120", "API_BUSINESS_PARTNER",
			deps("BUSINESS_PARTNER", "MM_CONFIG"), keyed([]string{"LIFNR", "EKORG"})),
		lnObject("MATERIAL", "Products", CategoryMasterData, "tcibd001", "API_PRODUCT_SRV",
			deps("MM_CONFIG"), keyed([]string{"MATNR"}, "MTART", "MEINS")),
		lnObject("PRICING_CONDITION", "Sales pricing conditions", CategoryMasterData, "tdpcg031", "API_SLSPRICINGCONDITIONRECORD_SRV",
			deps("CUSTOMER", "MATERIAL"), required("MATNR", "KBETR")),
		lnObject("WORK_CENTER", "Work centers", CategoryMasterData, "tirou001", "API_WORK_CENTERS",
			deps("PP_CONFIG", "COST_CENTER"), keyed([]string{"ARBPL", "WERKS"})),
		lnObject("BOM", "Bill of material items", CategoryMasterData, "tibom010", "API_BILL_OF_MATERIAL_SRV",
			deps("MATERIAL"), keyed([]string{"MATNR", "POSNR"}, "IDNRK")),
		lnObject("ROUTING", "Routing operations", CategoryMasterData, "tirou102", "API_PRODUCTION_ROUTING",
			deps("WORK_CENTER", "MATERIAL"), keyed([]string{"MATNR", "VORNR"})),
		lnObject("STORAGE_BIN", "Storage bins", CategoryMasterData, "whwmd300", "API_WAREHOUSE_STORAGE_BIN",
			deps("WM_CONFIG"), keyed([]string{"LGNUM", "LGPLA"})),
		lnObject("INSPECTION_PLAN", "Inspection plans", CategoryMasterData, "qmptc100", "API_INSPECTIONPLAN_SRV",
			deps("MATERIAL"), keyed([]string{"PLNNR"})),

		// Balances and open items
		lnObject("GL_BALANCE", "GL balances", CategoryTransactional, "tfgld203", "API_GLACCOUNTBALANCE_SRV",
			deps("GL_ACCOUNT"), keyed([]string{"SAKNR", "BUKRS", "GJAHR", "MONAT"})),
		journal,
		lnObject("AP_OPEN_ITEM", "Supplier open items", CategoryTransactional, "tfacp200", "API_SUPPLIEROPENITEM_SRV",
			deps("SUPPLIER", "GL_ACCOUNT"), keyed([]string{"LIFNR", "XBLNR", "BUKRS"}, "WRBTR")),
		lnObject("AR_OPEN_ITEM", "Customer open items", CategoryTransactional, "tfacr200", "API_CUSTOMEROPENITEM_SRV",
			deps("CUSTOMER", "GL_ACCOUNT"), keyed([]string{"KUNNR", "XBLNR", "BUKRS"}, "WRBTR")),
		lnObject("PURCHASE_ORDER", "Open purchase orders", CategoryTransactional, "tdpur400", "API_PURCHASEORDER_PROCESS_SRV",
			deps("SUPPLIER", "MATERIAL"), keyed([]string{"EBELN"}, "LIFNR")),
		lnObject("SALES_ORDER", "Open sales orders", CategoryTransactional, "tdsls400", "API_SALES_ORDER_SRV",
			deps("CUSTOMER", "MATERIAL"), keyed([]string{"VBELN"}, "KUNNR")),
		lnObject("INVENTORY_BALANCE", "Inventory balances", CategoryTransactional, "whwmd215", "API_MATERIAL_STOCK_SRV",
			deps("MATERIAL"), keyed([]string{"MATNR", "WERKS"})),

		// Interfaces
		lnObject("EDI_PARTNER", "EDI partner profiles", CategoryInterfaces, "tcedi028", "API_EDIPARTNERPROFILE_SRV",
			deps("BUSINESS_PARTNER"), keyed([]string{"PARTN", "MESTYP"})),
	}
}
