package extraction

import "erpmigrate/internal/adapter"

func bind(system adapter.SourceSystem, ds []Descriptor) []Descriptor {
	for i := range ds {
		ds[i].SourceSystem = system
	}
	return ds
}

func sapCatalog() []Descriptor {
	return bind(adapter.SystemSAP, []Descriptor{
		{ID: "SAP_SYS_CLIENTS", Name: "Clients and company codes", Module: "SYS", Category: CategorySystem,
			Tables: []ExpectedTable{
				critical("T000", "Clients"),
				optional("T001", "Company codes"),
				optional("USR02", "Logon data"),
			}},
		{ID: "SAP_FI_DOCUMENTS", Name: "Accounting documents", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("BKPF", "Accounting document headers"),
				critical("BSEG", "Accounting document segments"),
			},
			Analyze: countBy("BKPF", "BLART", "documentTypes")},
		{ID: "SAP_MM_MATERIALS", Name: "Materials", Module: "MM", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("MARA", "General material data"),
				optional("MAKT", "Material descriptions"),
			},
			Analyze: missingValue("MARA", "MATNR", "MEINS", "materialsWithoutUnit")},
		{ID: "SAP_BP_CUSTOMERS", Name: "Customers", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("KNA1", "Customer general data"),
				optional("KNB1", "Customer company code data"),
			},
			Analyze: duplicateNames("KNA1", "KUNNR", "NAME1")},
		{ID: "SAP_BP_SUPPLIERS", Name: "Vendors", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("LFA1", "Vendor general data"),
				optional("LFB1", "Vendor company code data"),
			},
			Analyze: duplicateNames("LFA1", "LIFNR", "NAME1")},
	})
}

func m3Catalog() []Descriptor {
	return bind(adapter.SystemM3, []Descriptor{
		{ID: "M3_ITEMS", Name: "Items", Module: "MM", Category: CategoryMasterData,
			Tables: []ExpectedTable{
				critical("MITMAS", "Item master"),
				optional("MITBAL", "Item warehouse balances"),
			},
			Analyze: missingValue("MITMAS", "MMITNO", "MMUNMS", "itemsWithoutUnit")},
		{ID: "M3_CUSTOMERS", Name: "Customers", Module: "BP", Category: CategoryMasterData,
			Tables:  []ExpectedTable{critical("OCUSMA", "Customer master")},
			Analyze: duplicateNames("OCUSMA", "OKCUNO", "OKCUNM")},
		{ID: "M3_SUPPLIERS", Name: "Suppliers", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("CIDMAS", "Supplier master")}},
		{ID: "M3_GL", Name: "General ledger", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("FGLEDG", "General ledger transactions"),
				optional("CMNDIV", "Divisions"),
			}},
	})
}

func csiCatalog() []Descriptor {
	return bind(adapter.SystemCSI, []Descriptor{
		{ID: "CSI_ITEMS", Name: "Items", Module: "MM", Category: CategoryMasterData,
			Tables:  []ExpectedTable{critical("SLItems", "Items")},
			Analyze: missingValue("SLItems", "Item", "UM", "itemsWithoutUnit")},
		{ID: "CSI_CUSTOMERS", Name: "Customers", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("SLCustomers", "Customers")}},
		{ID: "CSI_VENDORS", Name: "Vendors", Module: "BP", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("SLVendors", "Vendors")}},
		{ID: "CSI_ORDERS", Name: "Customer order lines", Module: "SD", Category: CategoryTransactional,
			Tables: []ExpectedTable{critical("SLCoItems", "Customer order lines")}},
		{ID: "CSI_CHART_OF_ACCOUNTS", Name: "Chart of accounts", Module: "FI", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("SLChartOfAccounts", "Chart of accounts")}},
	})
}

func lawsonCatalog() []Descriptor {
	return bind(adapter.SystemLawson, []Descriptor{
		{ID: "LAWSON_GL", Name: "General ledger", Module: "FI", Category: CategoryTransactional,
			Tables: []ExpectedTable{
				critical("GLTRANS", "GL transactions"),
				critical("GLCHART", "Chart of accounts"),
			}},
		{ID: "LAWSON_VENDORS", Name: "Vendors", Module: "BP", Category: CategoryMasterData,
			Tables:  []ExpectedTable{critical("APVENMAST", "Vendor master")},
			Analyze: duplicateNames("APVENMAST", "Vendor", "VendorName")},
		{ID: "LAWSON_EMPLOYEES", Name: "Employees", Module: "HR", Category: CategoryMasterData,
			Tables: []ExpectedTable{critical("EMPLOYEE", "Employees")}},
		{ID: "LAWSON_ITEMS", Name: "Item master", Module: "MM", Category: CategoryMasterData,
			Tables:  []ExpectedTable{critical("ITEMMAST", "Item master")},
			Analyze: missingValue("ITEMMAST", "Item", "StockUOM", "itemsWithoutUnit")},
	})
}
