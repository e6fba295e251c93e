package sandbox

// bootstrapSource installs the frozen ui node-constructor namespace.
// Event references accept a handler name or {handler, args}.
const bootstrapSource = `(function (global) {
  "use strict";

  function str(v) {
    return v === undefined || v === null ? "" : String(v);
  }

  function ref(v) {
    if (v === undefined || v === null) {
      return undefined;
    }
    if (typeof v === "string") {
      return { handler: v };
    }
    if (typeof v === "object" && typeof v.handler === "string") {
      return v.args === undefined ? { handler: v.handler } : { handler: v.handler, args: v.args };
    }
    throw new TypeError("event reference must be a handler name or {handler, args}");
  }

  function assign(target, key, value) {
    if (value !== undefined) {
      target[key] = value;
    }
  }

  function children(args) {
    if (args.length === 1 && Array.isArray(args[0])) {
      return args[0].slice();
    }
    return Array.prototype.slice.call(args);
  }

  function container(kind) {
    return function () {
      return { kind: kind, children: children(arguments) };
    };
  }

  var api = {
    text: function (content) {
      return { kind: "text", text: str(content) };
    },
    badge: function (content) {
      return { kind: "badge", text: str(content) };
    },
    button: function (label, props) {
      props = props || {};
      var p = { label: str(label) };
      assign(p, "variant", props.variant === undefined ? undefined : str(props.variant));
      assign(p, "onClick", ref(props.onClick));
      return { kind: "button", props: p };
    },
    input: function (value, props) {
      props = props || {};
      var p = { value: str(value) };
      assign(p, "placeholder", props.placeholder === undefined ? undefined : str(props.placeholder));
      assign(p, "onChange", ref(props.onChange));
      return { kind: "input", props: p };
    },
    counter: function (value, props) {
      props = props || {};
      var p = { value: Number(value) || 0 };
      assign(p, "onIncrement", ref(props.onIncrement));
      assign(p, "onDecrement", ref(props.onDecrement));
      return { kind: "counter", props: p };
    },
    row: container("row"),
    column: container("column"),
    panel: container("panel"),
    table: function (rows, props) {
      props = props || {};
      return {
        kind: "table",
        props: { headers: (props.headers || []).map(str), rows: rows || [] }
      };
    }
  };

  Object.defineProperty(global, "ui", {
    value: Object.freeze(api),
    writable: false,
    enumerable: false,
    configurable: false
  });
})(this);
`
