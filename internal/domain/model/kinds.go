package model

import "strconv"

// Виды записей WQT.
var (
	// KindCertificate — сертификат квалификации сварщика.
	KindCertificate = register(&Kind{
		Name:        "certificate",
		Title:       "Welder Qualification Certificate",
		Prefix:      "certificate_",
		Folder:      "certificates",
		ObjectBase:  "cert",
		PhotoFields: []string{"profile", "photo"},
		Schema: []FieldSpec{
			{Name: "welderId", Type: FieldText},
			{Name: "clientName", Type: FieldText},
			{Name: "welderName", Type: FieldText},
			{Name: "identification_wps", Type: FieldText},
			{Name: "iqamaNo", Type: FieldText},
			{Name: "qualificationStandard", Type: FieldText},
			{Name: "baseMetalSpecs", Type: FieldText},
			{Name: "wtaRef", Type: FieldText},
			{Name: "jointType", Type: FieldText},
			{Name: "date_of_test", Type: FieldText},
			{Name: "weldType", Type: FieldText},
			{Name: "year", Type: FieldText},
			{Name: "supervisorName", Type: FieldText},
			{Name: "welderInspector", Type: FieldText},
		},
		Preserved: []string{"welderId"},
		onCreate: func(f Fields, seq int64, _ string) {
			f["welderId"] = "w-" + strconv.FormatInt(seq, 10)
		},
	})

	// KindCard — удостоверение сварщика с таблицей допусков.
	KindCard = register(&Kind{
		Name:        "card",
		Title:       "Welder ID Card",
		Prefix:      "c-",
		Folder:      "cards",
		ObjectBase:  "card",
		PhotoFields: []string{"card", "photo"},
		Schema: []FieldSpec{
			{Name: "company", Type: FieldText},
			{Name: "welder_name", Type: FieldText},
			{Name: "iqama_no", Type: FieldText},
			{Name: "welder_id", Type: FieldText},
			{Name: "authorized_by", Type: FieldText},
			{Name: "welding_inspector", Type: FieldText},
			{Name: "tableData", Type: FieldTable},
		},
		onCreate: func(f Fields, _ int64, publicID string) {
			injectCardNo(f, publicID)
		},
		onUpdate: func(f Fields, existing *Record) {
			injectCardNo(f, existing.PublicID)
		},
	})

	// KindOperator — квалификация оператора сварочного оборудования.
	KindOperator = register(&Kind{
		Name:        "operator",
		Title:       "Welding Operator Performance Qualification",
		Prefix:      "operator_",
		Folder:      "operators",
		ObjectBase:  "operator",
		PhotoFields: []string{"profile", "photo"},
		Schema: append([]FieldSpec{
			{Name: "operatorName", Type: FieldText, Required: true},
			{Name: "operatorId", Type: FieldText},
			{Name: "certificateNo", Type: FieldText},
			{Name: "wpsFollowed", Type: FieldText},
			{Name: "jointWeldType", Type: FieldText},
			{Name: "baseMetalSpec", Type: FieldText},
			{Name: "testCouponSize", Type: FieldText},
			{Name: "iqamaPassport", Type: FieldText},
			{Name: "dateOfIssue", Type: FieldText},
			{Name: "dateOfWelding", Type: FieldText},
			{Name: "baseMetalPNo", Type: FieldText},
			{Name: "fillerSfaSpec", Type: FieldText},
			{Name: "fillerClassAws", Type: FieldText},
			{Name: "positions", Type: FieldText},
			{Name: "visualExamination", Type: FieldTestResult},
			{Name: "liquidPenetrantExamination", Type: FieldTestResult},
			{Name: "ultrasonicTesting", Type: FieldTestResult},
			{Name: "bendTest", Type: FieldTestResult},
			{Name: "lawName", Type: FieldText},
			{Name: "status", Type: FieldText, Default: "active"},
		}, actualRange(
			"typeOfWeldingAutomatic", "weldingProcessAutomatic", "fillerMetalUsed",
			"typeOfLaser", "countinousDrive", "vacuumOutOfVacuum",
			"typeOfWeldingMachine", "weldingProcessMachine", "directRemoteVisualControl",
			"automaticArcVoltageControl", "automaticJointTracking", "positionsMachine",
			"baseMaterialThickness", "consumableInsert", "backing", "singleMultiplePasses",
		)...),
		Preserved: []string{"certificateNo"},
		onCreate: func(f Fields, seq int64, _ string) {
			n := strconv.FormatInt(seq, 10)
			f["certificateNo"] = "c-" + n
			if f.String("operatorId") == "" {
				f["operatorId"] = "W-" + n
			}
		},
		onUpdate: func(f Fields, existing *Record) {
			if f.String("operatorId") == "" {
				if prev := existing.Fields.String("operatorId"); prev != "" {
					f["operatorId"] = prev
				}
			}
		},
	})

	// KindSteelCard — карта сварщика Aasia Steel.
	KindSteelCard = register(&Kind{
		Name:        "steel-card",
		Title:       "Aasia Steel Welder Card",
		Prefix:      "asc-",
		Folder:      "aasia-steel-cards",
		ObjectBase:  "aasia-steel-card",
		PhotoFields: []string{"image", "photo"},
		Schema: append([]FieldSpec{
			{Name: "company", Type: FieldText},
			{Name: "welder_name", Type: FieldText},
			{Name: "iqama_no", Type: FieldText},
			{Name: "welder_id", Type: FieldText},
			{Name: "authorized_by", Type: FieldText},
			{Name: "welding_inspector", Type: FieldText},
			{Name: "tableData", Type: FieldTable},
		}, snakeActualRange(
			"welding_process_type", "backing", "diameter", "base_metal_pno",
			"deposited_thickness", "position_prog", "filler_metal_class",
			"filler_metal_fno", "backing_gas", "transfer_mode",
			"current_type_polarity", "join_weld_type",
		)...),
	})
)

// injectCardNo записывает номер карты во вторую ячейку первой строки таблицы.
func injectCardNo(f Fields, publicID string) {
	t := f.Table("tableData")
	if t == nil || len(t.Rows) == 0 {
		return
	}
	t.SetCell(0, 1, publicID)
}

// actualRange формирует пары полей <name>Actual / <name>Range.
func actualRange(names ...string) []FieldSpec {
	out := make([]FieldSpec, 0, len(names)*2)
	for _, n := range names {
		out = append(out,
			FieldSpec{Name: n + "Actual", Type: FieldText},
			FieldSpec{Name: n + "Range", Type: FieldText},
		)
	}
	return out
}

// snakeActualRange формирует пары полей <name>_actual / <name>_range.
func snakeActualRange(names ...string) []FieldSpec {
	out := make([]FieldSpec, 0, len(names)*2)
	for _, n := range names {
		out = append(out,
			FieldSpec{Name: n + "_actual", Type: FieldText},
			FieldSpec{Name: n + "_range", Type: FieldText},
		)
	}
	return out
}
