package anki

// Styling shared by both note types. The interactive front renders the
// scraped card markup, so the CSS has to cover monitors, medical
// tables and embedded images, not just the option list.
const cardCSS = `
.background { margin-bottom: 16px; }
.question    { font-size: 1.1em; margin-bottom: 8px; font-weight: bold; }
.options     { border: 1px solid #666; padding: 10px; display: inline-block; }
.option      { margin: 6px 0; }
.option input{ margin-right: 6px; }
#answer-section { margin-top: 12px; }
.correct { color: green !important; font-weight: bold; }
.incorrect { color: red !important; }
hr#answer-divider { border: none; border-top: 1px solid #888; margin: 16px 0; }
#answer-section { color: white; }
#explanation { color: white; }

.full-card-content {
    margin-bottom: 20px;
    border: 1px solid #ccc;
    padding: 15px;
    background: #f9f9f9;
    border-radius: 5px;
}

.full-card-content .container.card {
    background: white;
    border: none;
    padding: 0;
}

.vital-signs-monitor {
    background: #1a1a1a;
    color: #00ff00;
    font-family: 'Courier New', monospace;
    padding: 15px;
    border: 2px solid #333;
    border-radius: 8px;
    margin: 10px 0;
}

.monitor {
    background: #000;
    color: #00ff00;
    font-family: monospace;
    padding: 10px;
    border: 1px solid #333;
}

table {
    border-collapse: collapse;
    width: 100%;
    margin: 10px 0;
    background: white;
    color: black;
}

table th, table td {
    border: 1px solid #ddd;
    padding: 8px;
    text-align: left;
    color: black !important;
    background: white;
}

table th {
    background-color: #f2f2f2 !important;
    font-weight: bold;
    color: black !important;
}

#explanation table, #answer-section table {
    background: white !important;
    color: black !important;
    border: 2px solid #333;
    margin: 15px 0;
}

#explanation table th, #answer-section table th {
    background-color: #e6e6e6 !important;
    color: black !important;
    font-weight: bold;
    border: 1px solid #666;
}

#explanation table td, #answer-section table td {
    background: white !important;
    color: black !important;
    border: 1px solid #666;
}

#explanation h4, #answer-section h4 {
    color: #4CAF50;
    font-weight: bold;
    margin-top: 20px;
    margin-bottom: 10px;
}

.extracted-images {
    margin: 15px 0;
    padding: 10px;
    border: 1px solid #ddd;
    border-radius: 5px;
    background: #fafafa;
}

.extracted-images img {
    max-width: 100%;
    height: auto;
    margin: 5px;
    border: 1px solid #ccc;
    border-radius: 3px;
    box-shadow: 0 2px 4px rgba(0,0,0,0.1);
}

.extracted-images img[width] {
    max-width: 100% !important;
    width: auto !important;
    height: auto !important;
}
`

// mcqFront persists the selected options per card id so the answer
// side can re-check them after the flip.
const mcqFront = `
{{Front}}
<script>
(function(){
  var cid = "{{CardId}}", key = "sel_"+cid;
  localStorage.removeItem(key);
  var saved = JSON.parse(localStorage.getItem(key) || '[]');
  saved.forEach(function(id){
    var inp = document.getElementById(id);
    if(inp) inp.checked = true;
  });
  document.querySelectorAll('.option input').forEach(function(inp){
    inp.addEventListener('change', function(){
      var sel = Array.from(
        document.querySelectorAll('.option input:checked')
      ).map(function(e){ return e.id; });
      localStorage.setItem(key, JSON.stringify(sel));
    });
  });
})();
</script>
`

// mcqBack restores the selection, highlights correct and incorrect
// picks and self-scores against the " ||| "-joined answer list.
const mcqBack = `
{{Front}}
<script>
(function(){
  var cid = "{{CardId}}", key = "sel_"+cid,
      saved = JSON.parse(localStorage.getItem(key) || '[]');
  saved.forEach(function(id){
    var inp = document.getElementById(id);
    if(inp) inp.checked = true;
  });
})();
</script>
<hr id="answer-divider">
<script>
(function(){
  var answers = "{{CorrectAnswer}}".split(" ||| ").map(function(s){ return s.trim(); });
  document.querySelectorAll('.option label').forEach(function(lbl){
    var text = lbl.innerText.trim(),
        inp  = document.getElementById(lbl.getAttribute('for'));
    if(answers.includes(text)){
      lbl.classList.add('correct');
    } else if(inp && inp.checked){
      lbl.classList.add('incorrect');
    }
  });
})();
</script>
<div id="answer-section">
  <b>Correct answer(s):</b> {{CorrectAnswer}}<br>
  <b>Score:</b> <span id="score-text">{{ScoreText}}</span><br>
  <b>Percent:</b> <span id="percent-text">{{Percent}}</span>
</div>
<script>
(function(){
  var answers = "{{CorrectAnswer}}".split(" ||| ").map(function(s){ return s.trim(); });
  var selected = Array.from(document.querySelectorAll('.option input:checked')).map(function(inp){ return inp.value.trim(); });
  var correctLen = answers.length;
  var selectedCorrect = 0;

  selected.forEach(function(val){
    var normalizedVal = val.replace(/\s+/g, ' ').trim();
    var isCorrect = answers.some(function(answer){
      var normalizedAnswer = answer.replace(/\s+/g, ' ').trim();
      return normalizedVal === normalizedAnswer;
    });
    if(isCorrect) selectedCorrect++;
  });

  var scoreEl = document.getElementById('score-text');
  var pctEl = document.getElementById('percent-text');
  if(scoreEl){
    scoreEl.innerText = selectedCorrect + " / " + correctLen;
  }
  if(pctEl){
    var pct = correctLen > 0 ? Math.round((selectedCorrect / correctLen) * 100) : 0;
    pctEl.innerText = pct + "%";
  }
})();
</script>
{{#Sources}}
<hr>
<div id="sources">
  <b>Sources:</b><br>
  {{{Sources}}}
</div>
{{/Sources}}
<hr>
{{#Explanation}}
<div id="explanation"><b>Explanation:</b> {{Explanation}}</div>
{{/Explanation}}
`

const freeTextBack = `
{{Front}}
<hr id="answer-divider">
<div id="answer-section">
  <b>Answer:</b> <span style="color:white;">{{CorrectAnswer}}</span>
</div>
{{#Explanation}}
<div id="explanation"><b>Explanation:</b> <span style="color:white;">{{Explanation}}</span></div>
{{/Explanation}}
`

// McqModel is the interactive multiple-choice note type.
func McqModel() *Model {
	return &Model{
		ID:     ModelID,
		Name:   "MCQ Q&A",
		Fields: []string{"Front", "CorrectAnswer", "Explanation", "ScoreText", "Percent", "Sources", "Multi", "CardId"},
		CSS:    cardCSS,
		Templates: []Template{{
			Name: "Card 1",
			Qfmt: mcqFront,
			Afmt: mcqBack,
		}},
	}
}

// FreeTextModel is the plain question/answer note type for open-ended
// cards.
func FreeTextModel() *Model {
	return &Model{
		ID:     ModelID + 1,
		Name:   "FreeText Q&A",
		Fields: []string{"Front", "CorrectAnswer", "Explanation"},
		CSS:    cardCSS,
		Templates: []Template{{
			Name: "Card 1",
			Qfmt: "{{Front}}",
			Afmt: freeTextBack,
		}},
	}
}
