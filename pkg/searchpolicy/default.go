package searchpolicy

// Default returns the built-in policy used when no policy file is
// configured. The tables cover the German political vocabulary the
// assistant sees most; deployments override them with their own file.
func Default() *Policy {
	return &Policy{
		Version: "1",
		PaywallDomains: []string{
			"faz.net",
			"welt.de",
			"sueddeutsche.de",
			"zeit.de",
			"handelsblatt.com",
			"wiwo.de",
			"nzz.ch",
			"tagesspiegel.de",
		},
		Synonyms: []SynonymSet{
			{
				Language: "de",
				Terms: []Synonym{
					{Word: "klimaschutz", Expand: []string{"Klimapolitik", "Klimaneutralität"}},
					{Word: "radverkehr", Expand: []string{"Radwege", "Fahrradinfrastruktur"}},
					{Word: "wärmewende", Expand: []string{"Wärmeplanung", "Heizungsgesetz"}},
					{Word: "solarpflicht", Expand: []string{"Photovoltaikpflicht", "Solarausbau"}},
					{Word: "bürgerbeteiligung", Expand: []string{"Partizipation", "Bürgerrat"}},
					{Word: "verkehrswende", Expand: []string{"Mobilitätswende", "ÖPNV-Ausbau"}},
					{Word: "grundsatzprogramm", Expand: []string{"Parteiprogramm"}},
				},
			},
		},
		News: &NewsRouting{
			Cues: []string{
				"aktuell",
				"aktuelle",
				"heute",
				"gestern",
				"diese woche",
				"neueste",
				"neuigkeiten",
				"news",
				"pressemitteilung",
				"beschlossen",
			},
			TimeRange: "month",
		},
		CategoryHints: []CategoryHint{
			{
				Category: "science",
				Terms:    []string{"studie", "forschung", "wissenschaftlich", "gutachten"},
			},
		},
	}
}
