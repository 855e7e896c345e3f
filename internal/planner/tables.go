package planner

// moduleSpec ties a functional module to the extractors whose success shows the module
// is in use and to the migration objects that carry it.
type moduleSpec struct {
	Module     string
	Indicators []string
	Objects    []string
}

var moduleTable = []moduleSpec{
	{
		Module: "FI",
		Indicators: []string{"FI_COMPANY", "FI_CHART_OF_ACCOUNTS", "FI_TRANSACTIONS", "FI_BALANCES",
			"FI_AP_OPEN_ITEMS", "FI_AR_OPEN_ITEMS", "SAP_FI_DOCUMENTS", "M3_GL", "CSI_CHART_OF_ACCOUNTS", "LAWSON_GL"},
		Objects: []string{"FI_CONFIG", "GL_ACCOUNT", "GL_BALANCE", "JOURNAL_ENTRY", "AP_OPEN_ITEM", "AR_OPEN_ITEM"},
	},
	{
		Module:     "CO",
		Indicators: []string{"CO_DIMENSIONS", "CO_BUDGETS"},
		Objects:    []string{"CO_CONFIG", "COST_CENTER", "PROFIT_CENTER"},
	},
	{
		Module:     "AA",
		Indicators: []string{"AA_ASSET_GROUPS", "AA_ASSETS"},
		Objects:    []string{"ASSET_CONFIG", "FIXED_ASSET"},
	},
	{
		Module: "BP",
		Indicators: []string{"BP_PARTNERS", "BP_CUSTOMERS", "BP_SUPPLIERS", "SAP_BP_CUSTOMERS", "SAP_BP_SUPPLIERS",
			"M3_CUSTOMERS", "M3_SUPPLIERS", "CSI_CUSTOMERS", "CSI_VENDORS", "LAWSON_VENDORS"},
		Objects: []string{"BUSINESS_PARTNER", "CUSTOMER", "SUPPLIER"},
	},
	{
		Module:     "SD",
		Indicators: []string{"SD_CONFIG", "SD_ORDERS", "SD_PRICING", "SD_INVOICES", "CSI_ORDERS"},
		Objects:    []string{"SD_CONFIG", "SALES_ORDER", "PRICING_CONDITION"},
	},
	{
		Module: "MM",
		Indicators: []string{"MM_MATERIALS", "MM_WAREHOUSES", "MM_PURCHASE_ORDERS", "SAP_MM_MATERIALS",
			"M3_ITEMS", "CSI_ITEMS", "LAWSON_ITEMS"},
		Objects: []string{"MM_CONFIG", "MATERIAL", "PURCHASE_ORDER", "INVENTORY_BALANCE"},
	},
	{
		Module:     "PP",
		Indicators: []string{"PP_WORK_CENTERS", "PP_BOM", "PP_ROUTINGS", "PP_PRODUCTION_ORDERS"},
		Objects:    []string{"PP_CONFIG", "WORK_CENTER", "BOM", "ROUTING"},
	},
	{
		Module:     "WM",
		Indicators: []string{"WM_WAREHOUSE_CONFIG", "WM_LOCATIONS", "WM_INVENTORY"},
		Objects:    []string{"WM_CONFIG", "STORAGE_BIN"},
	},
	{
		Module:     "QM",
		Indicators: []string{"QM_INSPECTION_PLANS"},
		Objects:    []string{"INSPECTION_PLAN"},
	},
	{
		Module:     "EDI",
		Indicators: []string{"EDI_PARTNERS"},
		Objects:    []string{"EDI_PARTNER"},
	},
}

const defaultPriority = 50

var priorityTable = map[string]int{
	"FI_CONFIG":         100,
	"CO_CONFIG":         95,
	"SD_CONFIG":         95,
	"MM_CONFIG":         95,
	"ASSET_CONFIG":      90,
	"PP_CONFIG":         90,
	"WM_CONFIG":         90,
	"GL_ACCOUNT":        90,
	"BUSINESS_PARTNER":  85,
	"COST_CENTER":       80,
	"PROFIT_CENTER":     80,
	"CUSTOMER":          80,
	"SUPPLIER":          80,
	"MATERIAL":          80,
	"FIXED_ASSET":       70,
	"WORK_CENTER":       70,
	"BOM":               65,
	"ROUTING":           65,
	"GL_BALANCE":        60,
	"STORAGE_BIN":       60,
	"PRICING_CONDITION": 60,
	"AP_OPEN_ITEM":      55,
	"AR_OPEN_ITEM":      55,
	"INSPECTION_PLAN":   55,
	"INVENTORY_BALANCE": 50,
	"PURCHASE_ORDER":    45,
	"SALES_ORDER":       45,
	"JOURNAL_ENTRY":     40,
	"EDI_PARTNER":       30,
}

// Complexity estimates effort as Base + records/1000 * PerThousand hours.
type Complexity struct {
	Base        float64 `json:"base"`
	PerThousand float64 `json:"perThousand"`
}

var defaultComplexity = Complexity{Base: 20, PerThousand: 1}

var complexityTable = map[string]Complexity{
	"FI_CONFIG":         {Base: 16, PerThousand: 0},
	"GL_ACCOUNT":        {Base: 24, PerThousand: 2},
	"GL_BALANCE":        {Base: 16, PerThousand: 1},
	"JOURNAL_ENTRY":     {Base: 32, PerThousand: 0.5},
	"BUSINESS_PARTNER":  {Base: 40, PerThousand: 4},
	"CUSTOMER":          {Base: 24, PerThousand: 2},
	"SUPPLIER":          {Base: 24, PerThousand: 2},
	"MATERIAL":          {Base: 40, PerThousand: 3},
	"BOM":               {Base: 32, PerThousand: 2},
	"ROUTING":           {Base: 32, PerThousand: 2},
	"PRICING_CONDITION": {Base: 24, PerThousand: 1},
	"FIXED_ASSET":       {Base: 24, PerThousand: 2},
}

type tableRef struct {
	Extractor string
	Table     string
}

// volumeSources lists where each object's record volume can be read from an
// extraction. Objects missing here are reported as unestimated.
var volumeSources = map[string][]tableRef{
	"GL_ACCOUNT": {
		{"FI_CHART_OF_ACCOUNTS", "tfgld008"}, {"CSI_CHART_OF_ACCOUNTS", "SLChartOfAccounts"}, {"LAWSON_GL", "GLCHART"},
	},
	"GL_BALANCE": {{"FI_BALANCES", "tfgld203"}},
	"JOURNAL_ENTRY": {
		{"FI_TRANSACTIONS", "tfgld106"}, {"SAP_FI_DOCUMENTS", "BSEG"}, {"M3_GL", "FGLEDG"}, {"LAWSON_GL", "GLTRANS"},
	},
	"AP_OPEN_ITEM": {{"FI_AP_OPEN_ITEMS", "tfacp200"}},
	"AR_OPEN_ITEM": {{"FI_AR_OPEN_ITEMS", "tfacr200"}},
	"BUSINESS_PARTNER": {
		{"BP_PARTNERS", "tccom100"}, {"SAP_BP_CUSTOMERS", "KNA1"}, {"SAP_BP_SUPPLIERS", "LFA1"},
		{"M3_CUSTOMERS", "OCUSMA"}, {"M3_SUPPLIERS", "CIDMAS"}, {"CSI_CUSTOMERS", "SLCustomers"},
		{"CSI_VENDORS", "SLVendors"}, {"LAWSON_VENDORS", "APVENMAST"},
	},
	"CUSTOMER": {
		{"BP_CUSTOMERS", "tccom110"}, {"SAP_BP_CUSTOMERS", "KNA1"}, {"M3_CUSTOMERS", "OCUSMA"}, {"CSI_CUSTOMERS", "SLCustomers"},
	},
	"SUPPLIER": {
		{"BP_SUPPLIERS", "tccom120"}, {"SAP_BP_SUPPLIERS", "LFA1"}, {"M3_SUPPLIERS", "CIDMAS"},
		{"CSI_VENDORS", "SLVendors"}, {"LAWSON_VENDORS", "APVENMAST"},
	},
	"MATERIAL": {
		{"MM_MATERIALS", "tcibd001"}, {"SAP_MM_MATERIALS", "MARA"}, {"M3_ITEMS", "MITMAS"},
		{"CSI_ITEMS", "SLItems"}, {"LAWSON_ITEMS", "ITEMMAST"},
	},
	"PURCHASE_ORDER":    {{"MM_PURCHASE_ORDERS", "tdpur400"}},
	"SALES_ORDER":       {{"SD_ORDERS", "tdsls400"}, {"CSI_ORDERS", "SLCoItems"}},
	"FIXED_ASSET":       {{"AA_ASSETS", "tffam100"}},
	"INVENTORY_BALANCE": {{"WM_INVENTORY", "whwmd215"}, {"M3_ITEMS", "MITBAL"}},
}
